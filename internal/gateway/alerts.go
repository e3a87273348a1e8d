package gateway

import (
	"fmt"
	"sync"
	"time"

	"apiguard/internal/logger"
	"apiguard/internal/metrics"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"
)

// AlertSeverity 告警级别
type AlertSeverity string

const (
	// AlertWarning 越过告警阈值
	AlertWarning AlertSeverity = "warning"
	// AlertCritical 越过严重阈值
	AlertCritical AlertSeverity = "critical"
)

// Alert 网关告警
// ID 取语义键（规则名），重复触发更新 UpdatedAt 而非新建
type Alert struct {
	ID         string        `json:"id"`
	Rule       string        `json:"rule"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// AlertSink 告警事件出口（WebSocket 推送等）
type AlertSink interface {
	AlertRaised(a Alert)
	AlertCleared(a Alert)
}

// alertManager 告警状态机
// 抬升需要越过阈值，清除需要后续检查回落到阈值之下（迟滞）
type alertManager struct {
	mu      sync.Mutex
	active  map[string]*Alert
	history []Alert

	rules map[string]*govaluate.EvaluableExpression
	sink  AlertSink
	log   *zap.Logger
	now   func() time.Time
}

const alertHistoryCap = 200

func newAlertManager(ruleExprs map[string]string, sink AlertSink, now func() time.Time) *alertManager {
	m := &alertManager{
		active: make(map[string]*Alert),
		rules:  make(map[string]*govaluate.EvaluableExpression),
		sink:   sink,
		log:    logger.Named("gateway.alerts"),
		now:    now,
	}

	// 非法表达式跳过并记录，不阻断启动
	for name, expr := range ruleExprs {
		compiled, err := govaluate.NewEvaluableExpression(expr)
		if err != nil {
			m.log.Warn("告警规则表达式非法，已跳过",
				zap.String("rule", name), zap.String("expr", expr), zap.Error(err))
			continue
		}
		m.rules[name] = compiled
	}
	return m
}

// raise 触发或刷新告警
func (m *alertManager) raise(id string, severity AlertSeverity, message string, value, threshold float64) {
	m.mu.Lock()
	now := m.now()

	if existing, ok := m.active[id]; ok {
		existing.Severity = severity
		existing.Message = message
		existing.Value = value
		existing.UpdatedAt = now
		m.mu.Unlock()
		return
	}

	alert := &Alert{
		ID:        id,
		Rule:      id,
		Severity:  severity,
		Message:   message,
		Value:     value,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.active[id] = alert
	snapshot := *alert
	m.mu.Unlock()

	metrics.GatewayAlertsTotal.WithLabelValues(id, string(severity)).Inc()
	m.log.Warn("网关告警触发",
		zap.String("rule", id),
		zap.String("severity", string(severity)),
		zap.Float64("value", value),
		zap.Float64("threshold", threshold),
	)
	if m.sink != nil {
		m.sink.AlertRaised(snapshot)
	}
}

// clear 清除告警并归入历史
func (m *alertManager) clear(id string) {
	m.mu.Lock()
	alert, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, id)

	now := m.now()
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	m.history = append(m.history, *alert)
	if len(m.history) > alertHistoryCap {
		m.history = m.history[len(m.history)-alertHistoryCap:]
	}
	snapshot := *alert
	m.mu.Unlock()

	m.log.Info("网关告警恢复", zap.String("rule", id))
	if m.sink != nil {
		m.sink.AlertCleared(snapshot)
	}
}

// evaluate 按一次性能聚合结果驱动告警状态
func (m *alertManager) evaluate(report PerformanceReport, cfg thresholds) {
	if report.TotalChecks == 0 {
		return // 无数据不抬升也不清除
	}

	// 错误率
	switch {
	case report.ErrorRate >= cfg.errorRateCritical:
		m.raise("error_rate", AlertCritical,
			fmt.Sprintf("错误率 %.1f%% 超过严重阈值", report.ErrorRate*100),
			report.ErrorRate, cfg.errorRateCritical)
	case report.ErrorRate >= cfg.errorRateWarning:
		m.raise("error_rate", AlertWarning,
			fmt.Sprintf("错误率 %.1f%% 超过告警阈值", report.ErrorRate*100),
			report.ErrorRate, cfg.errorRateWarning)
	default:
		m.clear("error_rate")
	}

	// 平均延迟
	switch {
	case report.LatencyMeanMS >= cfg.latencyCriticalMS:
		m.raise("high_latency", AlertCritical,
			fmt.Sprintf("平均延迟 %.0fms 超过严重阈值", report.LatencyMeanMS),
			report.LatencyMeanMS, cfg.latencyCriticalMS)
	case report.LatencyMeanMS >= cfg.latencyWarningMS:
		m.raise("high_latency", AlertWarning,
			fmt.Sprintf("平均延迟 %.0fms 超过告警阈值", report.LatencyMeanMS),
			report.LatencyMeanMS, cfg.latencyWarningMS)
	default:
		m.clear("high_latency")
	}

	m.evaluateCustomRules(report)
}

// evaluateCustomRules 执行配置文件里的自定义规则表达式
// 表达式可引用 error_rate / success_rate / avg_latency_ms / p95_latency_ms / total_checks
func (m *alertManager) evaluateCustomRules(report PerformanceReport) {
	if len(m.rules) == 0 {
		return
	}

	p95 := 0.0
	if report.LatencyP95MS != nil {
		p95 = *report.LatencyP95MS
	}
	params := map[string]any{
		"error_rate":     report.ErrorRate,
		"success_rate":   report.SuccessRate,
		"avg_latency_ms": report.LatencyMeanMS,
		"p95_latency_ms": p95,
		"total_checks":   float64(report.TotalChecks),
	}

	for name, expr := range m.rules {
		result, err := expr.Evaluate(params)
		if err != nil {
			m.log.Warn("告警规则求值失败", zap.String("rule", name), zap.Error(err))
			continue
		}
		triggered, ok := result.(bool)
		if !ok {
			m.log.Warn("告警规则结果不是布尔值", zap.String("rule", name))
			continue
		}

		if triggered {
			m.raise(name, AlertWarning,
				fmt.Sprintf("自定义规则 %s 命中", name), 0, 0)
		} else {
			m.clear(name)
		}
	}
}

// activeAlerts 当前活跃告警快照
func (m *alertManager) activeAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// alertHistory 最近已恢复告警（新在后）
func (m *alertManager) alertHistory(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]Alert, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

// thresholds 内置告警阈值
type thresholds struct {
	errorRateWarning  float64
	errorRateCritical float64
	latencyWarningMS  float64
	latencyCriticalMS float64
}
