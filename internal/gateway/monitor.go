package gateway

import (
	"context"
	"sync"
	"time"

	"apiguard/internal/config"
	"apiguard/internal/logger"
	"apiguard/internal/metrics"

	"go.uber.org/zap"
)

// HealthSummary 健康状态摘要
type HealthSummary struct {
	Status       HealthStatus     `json:"status"`
	CheckedAt    time.Time        `json:"checked_at"`
	LatencyMS    float64          `json:"latency_ms"`
	SubChecks    []SubCheckResult `json:"sub_checks"`
	ActiveAlerts []Alert          `json:"active_alerts"`
	MetricCount  int              `json:"metric_count"`
	HasData      bool             `json:"has_data"`
}

// Monitor 网关健康监控
// 三个周期任务并发运行：健康探测、性能聚合+告警、过期指标清理
type Monitor struct {
	cfg    config.GatewayConfig
	prober *prober
	series *metricSeries
	alerts *alertManager

	log  *zap.Logger
	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// MonitorOption 监控可选配置
type MonitorOption func(*Monitor)

// WithAlertSink 指定告警事件出口
func WithAlertSink(sink AlertSink) MonitorOption {
	return func(m *Monitor) {
		m.alerts = newAlertManager(m.cfg.AlertRules, sink, m.now)
	}
}

// withMonitorClock 测试用时钟注入
func withMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
		m.alerts.now = now
	}
}

// NewMonitor 创建网关健康监控
func NewMonitor(cfg config.GatewayConfig, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		prober: newProber(cfg),
		series: newMetricSeries(0),
		log:    logger.Named("gateway"),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	m.alerts = newAlertManager(cfg.AlertRules, nil, m.now)
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start 启动周期任务，重复调用无效果
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.log.Info("网关健康监控启动",
			zap.String("base_url", m.cfg.BaseURL),
			zap.Duration("check_interval", m.cfg.CheckIntervalDuration()),
			zap.Duration("aggregate_interval", m.cfg.AggregateIntervalDuration()),
		)

		m.wg.Add(3)
		go m.healthLoop()
		go m.aggregateLoop()
		go m.cleanupLoop()
	})
}

// Stop 优雅停止：不再开始新迭代，等待进行中的探测结束
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
		m.log.Info("网关健康监控已停止")
	})
}

// healthLoop 健康探测循环
func (m *Monitor) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckIntervalDuration())
	defer ticker.Stop()

	// 启动即做一次探测，不等首个周期
	m.runCheck()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runCheck()
		}
	}
}

// runCheck 执行一轮探测并记录指标点
func (m *Monitor) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeoutDuration()*4)
	defer cancel()

	metric := m.prober.runChecks(ctx, m.now())
	m.series.add(metric)
	metrics.GatewayHealthStatus.Set(healthGaugeValue(metric.Status))

	if metric.Status != StatusHealthy {
		m.log.Warn("网关健康检查未通过",
			zap.String("status", string(metric.Status)),
			zap.Float64("latency_ms", metric.LatencyMS),
		)
	}
}

// aggregateLoop 性能聚合与告警循环
func (m *Monitor) aggregateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.AggregateIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runAggregation()
		}
	}
}

// runAggregation 聚合保留窗口内指标并驱动告警状态机
func (m *Monitor) runAggregation() {
	points := m.series.since(m.now().Add(-m.cfg.RetentionDuration()))
	report := aggregate(points, m.cfg.RetentionHours)

	m.alerts.evaluate(report, thresholds{
		errorRateWarning:  m.cfg.ErrorRateWarning,
		errorRateCritical: m.cfg.ErrorRateCritical,
		latencyWarningMS:  m.cfg.LatencyWarningMS,
		latencyCriticalMS: m.cfg.LatencyCriticalMS,
	})
}

// cleanupLoop 过期指标清理循环
func (m *Monitor) cleanupLoop() {
	defer m.wg.Done()

	// 清理频率取保留窗口的 1/24，与小时级保留匹配
	interval := m.cfg.RetentionDuration() / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.series.prune(m.now().Add(-m.cfg.RetentionDuration())); n > 0 {
				m.log.Debug("清理过期健康指标", zap.Int("dropped", n))
			}
		}
	}
}

// GetHealthSummary 当前健康摘要
func (m *Monitor) GetHealthSummary() HealthSummary {
	summary := HealthSummary{
		ActiveAlerts: m.alerts.activeAlerts(),
		MetricCount:  m.series.size(),
	}

	latest, ok := m.series.latest()
	if !ok {
		summary.Status = StatusDegraded // 尚无数据，保守报告
		return summary
	}

	summary.HasData = true
	summary.Status = latest.Status
	summary.CheckedAt = latest.Timestamp
	summary.LatencyMS = latest.LatencyMS
	summary.SubChecks = latest.SubChecks
	return summary
}

// GetPerformanceMetrics 窗口期性能聚合
func (m *Monitor) GetPerformanceMetrics(hours int) PerformanceReport {
	if hours <= 0 || hours > m.cfg.RetentionHours {
		hours = m.cfg.RetentionHours
	}
	points := m.series.since(m.now().Add(-time.Duration(hours) * time.Hour))
	return aggregate(points, hours)
}

// ActiveAlerts 当前活跃告警
func (m *Monitor) ActiveAlerts() []Alert {
	return m.alerts.activeAlerts()
}

// AlertHistory 已恢复告警历史
func (m *Monitor) AlertHistory(limit int) []Alert {
	return m.alerts.alertHistory(limit)
}

// healthGaugeValue 健康状态 -> 指标数值
func healthGaugeValue(s HealthStatus) float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}
