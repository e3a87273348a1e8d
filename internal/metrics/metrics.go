package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiguard_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 审计与异常检测指标
var (
	// SecurityEventsTotal 安全事件总数
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_security_events_total",
			Help: "记录的安全事件总数",
		},
		[]string{"type", "severity"},
	)

	// SecurityRiskScore 安全事件风险分分布
	SecurityRiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apiguard_security_risk_score",
			Help:    "安全事件风险分分布",
			Buckets: []float64{10, 25, 40, 55, 70, 85, 100},
		},
	)

	// AnomaliesDetectedTotal 异常模式触发总数
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_anomalies_detected_total",
			Help: "异常模式触发总数",
		},
		[]string{"pattern"},
	)
)

// 查询防护指标
var (
	// QueryBuildsTotal 参数化语句构造总数
	QueryBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_query_builds_total",
			Help: "参数化语句构造总数",
		},
		[]string{"operation", "status"}, // status: ok, rejected
	)
)

// 快速失败指标
var (
	// FastFailDecisionsTotal 快速失败判定总数
	FastFailDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_fastfail_decisions_total",
			Help: "快速失败判定总数",
		},
		[]string{"failure_type", "outcome"}, // outcome: fail_fast, pass
	)

	// CircuitBreakerState 熔断器状态（0=closed, 1=half_open, 2=open）
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apiguard_circuit_breaker_state",
			Help: "各失败类型熔断器状态",
		},
		[]string{"failure_type"},
	)

	// FastFailCacheHitsTotal 判定缓存命中数
	FastFailCacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_fastfail_cache_hits_total",
			Help: "快速失败判定缓存命中总数",
		},
		[]string{"result"}, // result: hit, miss
	)
)

// 网关健康监控指标
var (
	// GatewayProbesTotal 探测总数
	GatewayProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_gateway_probes_total",
			Help: "网关健康探测总数",
		},
		[]string{"check", "status"}, // status: ok, degraded, failed
	)

	// GatewayProbeDuration 探测耗时（秒）
	GatewayProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiguard_gateway_probe_duration_seconds",
			Help:    "网关健康探测耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"check"},
	)

	// GatewayHealthStatus 聚合健康状态（1=healthy, 0.5=degraded, 0=unhealthy）
	GatewayHealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiguard_gateway_health_status",
			Help: "网关聚合健康状态",
		},
	)

	// GatewayAlertsTotal 告警触发总数
	GatewayAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_gateway_alerts_total",
			Help: "网关告警触发总数",
		},
		[]string{"rule", "severity"},
	)

	// AlertStreamConnections 告警推送在线连接数
	AlertStreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiguard_alert_stream_connections",
			Help: "WebSocket 告警推送在线连接数",
		},
	)
)

// 归档队列指标
var (
	// ArchiveTasksTotal 归档任务处理总数
	ArchiveTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiguard_archive_tasks_total",
			Help: "安全事件归档任务处理总数",
		},
		[]string{"status"}, // status: ok, failed
	)
)

// 系统指标
var (
	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apiguard_build_info",
			Help: "APIGuard 构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion, commit string) {
	BuildInfo.WithLabelValues(version, goVersion, commit).Set(1)
}
