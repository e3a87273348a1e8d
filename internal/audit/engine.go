package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"apiguard/internal/logger"
	"apiguard/internal/metrics"
	"apiguard/internal/queryguard"

	"go.uber.org/zap"
)

// Archiver 事件归档接口
// 由异步队列实现，失败不回传调用方
type Archiver interface {
	Enqueue(ev SecurityEvent) error
}

// Engine 审计与异常检测引擎
// 事件写入内存环形缓冲并实时送入异常模式；记录事件永不 panic、永不向调用方抛错
type Engine struct {
	store    *eventStore
	patterns []*AnomalyPattern
	archiver Archiver
	log      *zap.Logger
	now      func() time.Time
}

// Option 引擎可选配置
type Option func(*Engine)

// WithArchiver 启用异步归档
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithPatterns 替换异常模式注册表
func WithPatterns(patterns []*AnomalyPattern) Option {
	return func(e *Engine) { e.patterns = patterns }
}

// withClock 测试用时钟注入
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine 创建审计引擎
func NewEngine(bufferSize int, opts ...Option) *Engine {
	e := &Engine{
		store:    newEventStore(bufferSize),
		patterns: DefaultAnomalyPatterns(),
		log:      logger.Named("audit"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Log 记录安全事件
// 内部失败时返回降级的 system_integrity 事件，调用路径不中断
func (e *Engine) Log(ctx context.Context, t EventType, sev Severity, title, description string, evCtx EventContext) *SecurityEvent {
	ev, err := e.buildEvent(t, sev, title, description, evCtx)
	if err != nil {
		// 记录事件失败不允许影响业务路径，降级为回退事件
		e.log.Error("构造安全事件失败，写入回退事件", zap.Error(err))
		ev = e.fallbackEvent(err)
	}

	e.store.add(ev)
	metrics.SecurityEventsTotal.WithLabelValues(string(ev.Type), ev.Severity.String()).Inc()
	metrics.SecurityRiskScore.Observe(float64(ev.RiskScore))

	e.archive(*ev)
	e.detect(ctx, ev)

	return ev
}

// buildEvent 构造并评分事件
func (e *Engine) buildEvent(t EventType, sev Severity, title, description string, evCtx EventContext) (*SecurityEvent, error) {
	if sev < SeverityLow || sev > SeverityEmergency {
		sev = SeverityLow
	}

	// 元数据必须可序列化，否则走回退事件
	if evCtx.Details != nil {
		if _, err := json.Marshal(evCtx.Details); err != nil {
			return nil, fmt.Errorf("事件元数据序列化失败: %w", err)
		}
	}

	ts := e.now()
	ev := &SecurityEvent{
		ID:          eventID(t, sev, title, ts),
		Timestamp:   ts,
		Type:        t,
		Severity:    sev,
		Title:       truncate(title, 200),
		Description: truncate(description, 2000),
		Context:     sanitizeContext(evCtx),
		Category:    CategoryOf(t),
		Status:      StatusNew,
	}
	ev.RiskScore = e.riskScore(ev)
	return ev, nil
}

// riskScore 风险评分：基础分 * 级别乘数 + 上下文加分，钳制到 [0,100]
func (e *Engine) riskScore(ev *SecurityEvent) int {
	score := riskBase[ev.Type] * severityMultiplier[ev.Severity]

	hourAgo := ev.Timestamp.Add(-time.Hour)
	if ev.Context.UserID != "" && e.store.countUserSince(ev.Context.UserID, hourAgo) > 10 {
		score += 10 // 主体近一小时事件频发
	}
	if ev.Context.ClientIP != "" && e.store.countIPSince(ev.Context.ClientIP, hourAgo) > 10 {
		score += 10
	}
	if ev.Context.Operation == "delete" || ev.Context.Operation == "DELETE" {
		score += 8
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// fallbackEvent 内部失败时的降级事件
func (e *Engine) fallbackEvent(cause error) *SecurityEvent {
	ts := e.now()
	title := "audit pipeline degraded"
	ev := &SecurityEvent{
		ID:          eventID(EventSystemIntegrity, SeverityHigh, title, ts),
		Timestamp:   ts,
		Type:        EventSystemIntegrity,
		Severity:    SeverityHigh,
		Title:       title,
		Description: truncate(fmt.Sprintf("事件记录失败: %v", cause), 2000),
		Category:    CategoryOf(EventSystemIntegrity),
		Status:      StatusNew,
		RiskScore:   75,
	}
	return ev
}

// detect 将事件送入全部异常模式，跨越阈值时合成派生异常事件
func (e *Engine) detect(ctx context.Context, ev *SecurityEvent) {
	if ev.Type == EventAnomalyDetection {
		return // 派生事件不再参与检测，避免自激
	}

	for _, p := range e.patterns {
		if !p.feed(ev) {
			continue
		}

		metrics.AnomaliesDetectedTotal.WithLabelValues(p.Name).Inc()
		e.log.Warn("异常模式触发",
			zap.String("pattern", p.Name),
			zap.String("trigger_event", ev.ID),
			zap.String("user_id", ev.Context.UserID),
		)

		derived := e.synthesizeAnomaly(p, ev)
		e.store.add(derived)
		metrics.SecurityEventsTotal.WithLabelValues(string(derived.Type), derived.Severity.String()).Inc()
		e.archive(*derived)
	}
	_ = ctx
}

// synthesizeAnomaly 合成派生异常事件
func (e *Engine) synthesizeAnomaly(p *AnomalyPattern, trigger *SecurityEvent) *SecurityEvent {
	ts := e.now()
	title := fmt.Sprintf("anomaly: %s", p.Name)
	return &SecurityEvent{
		ID:          eventID(EventAnomalyDetection, SeverityHigh, title, ts),
		Timestamp:   ts,
		Type:        EventAnomalyDetection,
		Severity:    SeverityHigh,
		Title:       title,
		Description: fmt.Sprintf("模式 %s 在 %s 窗口内超过 %d 次", p.Name, p.Window, p.Threshold),
		Context: EventContext{
			UserID:   trigger.Context.UserID,
			ClientIP: trigger.Context.ClientIP,
			Details: map[string]any{
				"pattern":     p.Name,
				"remediation": p.Remediation,
			},
		},
		Tags:        []string{"derived", p.Name},
		RiskScore:   85, // 派生异常固定风险分
		Category:    CategoryOf(EventAnomalyDetection),
		Status:      StatusNew,
		TriggeredBy: trigger.ID,
	}
}

// archive 异步归档，失败仅自记录
func (e *Engine) archive(ev SecurityEvent) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Enqueue(ev); err != nil {
		e.log.Warn("事件归档入队失败", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// ============================================================================
// 查询防护审计对接
// ============================================================================

// LogQueryBuild 实现 queryguard.Auditor
func (e *Engine) LogQueryBuild(ctx context.Context, rec queryguard.QueryAuditRecord) {
	sev := SeverityLow
	if rec.Elevated {
		sev = SeverityHigh
	}

	details := make(map[string]any, len(rec.ParamPreview)+1)
	for k, v := range rec.ParamPreview {
		details[k] = v
	}
	details["statement_hash"] = rec.Hash

	e.Log(ctx, EventDataAccess, sev,
		fmt.Sprintf("%s %s", rec.Operation, rec.Table),
		"参数化语句构造成功",
		EventContext{
			Resource:  rec.Table,
			Operation: rec.Operation,
			Details:   details,
		},
	)
}

// ============================================================================
// 读取接口
// ============================================================================

// GetEvent 按 ID 查询事件
func (e *Engine) GetEvent(id string) (SecurityEvent, bool) {
	ev, ok := e.store.get(id)
	if !ok {
		return SecurityEvent{}, false
	}
	return *ev, true
}

// UpdateStatus 事件状态流转
func (e *Engine) UpdateStatus(id string, to EventStatus) error {
	if !e.store.updateStatus(id, to) {
		return fmt.Errorf("事件 %s 不存在或状态迁移非法", id)
	}
	return nil
}

// RecentEvents 最近事件快照（最新在前）
func (e *Engine) RecentEvents(windowHours, limit int) []SecurityEvent {
	since := e.now().Add(-time.Duration(windowHours) * time.Hour)
	return e.store.snapshot(since, limit)
}

// EventCount 当前缓冲内事件数
func (e *Engine) EventCount() int {
	return e.store.size()
}
