package tasks

import "apiguard/internal/audit"

// 任务类型
const (
	TypeArchiveSecurityEvent = "audit:archive_event"
)

// ArchiveSecurityEventPayload 安全事件归档任务载荷
type ArchiveSecurityEventPayload struct {
	Event audit.SecurityEvent `json:"event"`
}
