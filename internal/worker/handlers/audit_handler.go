package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"apiguard/internal/audit"
	"apiguard/internal/metrics"
	"apiguard/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// AuditHandler 安全事件归档任务处理器
type AuditHandler struct {
	archiver *audit.DBArchiver
	logger   *zap.Logger
}

// NewAuditHandler 创建归档处理器
func NewAuditHandler(archiver *audit.DBArchiver, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{archiver: archiver, logger: logger}
}

// HandleArchiveEvent 处理单条事件归档
// 返回错误交给 asynq 按重试策略重新投递
func (h *AuditHandler) HandleArchiveEvent(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("worker").Start(ctx, "audit.archive_event")
	defer span.End()

	var payload tasks.ArchiveSecurityEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		metrics.ArchiveTasksTotal.WithLabelValues("failed").Inc()
		// 载荷损坏重试无意义
		return fmt.Errorf("解析归档载荷失败: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.archiver.Persist(ctx, payload.Event); err != nil {
		metrics.ArchiveTasksTotal.WithLabelValues("failed").Inc()
		h.logger.Error("事件归档写入失败",
			zap.String("event_id", payload.Event.ID),
			zap.Error(err),
		)
		return err
	}

	metrics.ArchiveTasksTotal.WithLabelValues("ok").Inc()
	h.logger.Debug("事件归档完成", zap.String("event_id", payload.Event.ID))
	return nil
}
