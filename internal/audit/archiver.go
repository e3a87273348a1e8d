package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ArchivedSecurityEvent 安全事件归档表
// 环形缓冲只保留最近事件，合规留存依赖该表
type ArchivedSecurityEvent struct {
	ID          string         `json:"id" gorm:"primaryKey;size:32"`
	Timestamp   time.Time      `json:"timestamp" gorm:"not null;index"`
	Type        string         `json:"type" gorm:"size:50;not null;index"`
	Severity    string         `json:"severity" gorm:"size:20;not null;index"`
	Title       string         `json:"title" gorm:"size:200;not null"`
	Description string         `json:"description" gorm:"type:text"`
	UserID      string         `json:"userId" gorm:"size:64;index"`
	ClientIP    string         `json:"clientIp" gorm:"size:45;index"`
	Context     datatypes.JSON `json:"context"`
	RiskScore   int            `json:"riskScore"`
	Category    string         `json:"category" gorm:"size:80;index"`
	Status      string         `json:"status" gorm:"size:20;not null;default:new"`
	TriggeredBy string         `json:"triggeredBy" gorm:"size:32"`
	CreatedAt   time.Time      `json:"createdAt" gorm:"autoCreateTime"`
}

func (ArchivedSecurityEvent) TableName() string {
	return "archived_security_events"
}

// DBArchiver 基于 GORM 的事件归档存储
// 由异步 worker 调用 Persist，失败不向上抛到业务路径
type DBArchiver struct {
	db *gorm.DB
}

// NewDBArchiver 创建归档存储
func NewDBArchiver(db *gorm.DB) *DBArchiver {
	return &DBArchiver{db: db}
}

// AutoMigrate 迁移归档表
func (a *DBArchiver) AutoMigrate() error {
	return a.db.AutoMigrate(&ArchivedSecurityEvent{})
}

// Persist 写入单条归档事件，重复 ID 幂等忽略
func (a *DBArchiver) Persist(ctx context.Context, ev SecurityEvent) error {
	_, span := otel.Tracer("audit").Start(ctx, "archiver.persist")
	defer span.End()

	ctxJSON, err := json.Marshal(ev.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}

	rec := &ArchivedSecurityEvent{
		ID:          ev.ID,
		Timestamp:   ev.Timestamp,
		Type:        string(ev.Type),
		Severity:    ev.Severity.String(),
		Title:       ev.Title,
		Description: ev.Description,
		UserID:      ev.Context.UserID,
		ClientIP:    ev.Context.ClientIP,
		Context:     datatypes.JSON(ctxJSON),
		RiskScore:   ev.RiskScore,
		Category:    ev.Category,
		Status:      string(ev.Status),
		TriggeredBy: ev.TriggeredBy,
	}

	// 同一事件重复入队时幂等
	return a.db.WithContext(ctx).
		Where("id = ?", rec.ID).
		FirstOrCreate(rec).Error
}

// QueryRange 按时间范围查询归档事件（合规导出用）
func (a *DBArchiver) QueryRange(ctx context.Context, from, to time.Time, category string, limit int) ([]ArchivedSecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	q := a.db.WithContext(ctx).Model(&ArchivedSecurityEvent{}).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var out []ArchivedSecurityEvent
	err := q.Order("timestamp DESC").Limit(limit).Find(&out).Error
	return out, err
}

// CountByCategory 按分类统计归档事件数
func (a *DBArchiver) CountByCategory(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	type row struct {
		Category string
		N        int64
	}
	var rows []row
	err := a.db.WithContext(ctx).Model(&ArchivedSecurityEvent{}).
		Select("category, count(*) as n").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Category] = r.N
	}
	return out, nil
}
