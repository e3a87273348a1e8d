package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"apiguard/internal/config"
	"apiguard/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// SubCheckStatus 子检查结果状态
type SubCheckStatus string

const (
	// SubCheckOK 子检查通过
	SubCheckOK SubCheckStatus = "ok"
	// SubCheckDegraded 子检查可达但响应异常
	SubCheckDegraded SubCheckStatus = "degraded"
	// SubCheckCritical 子检查不可达或严重失败
	SubCheckCritical SubCheckStatus = "critical"
)

// SubCheckResult 单项子检查结果
type SubCheckResult struct {
	Name      string         `json:"name"`
	Status    SubCheckStatus `json:"status"`
	LatencyMS float64        `json:"latency_ms"`
	Detail    string         `json:"detail,omitempty"`
}

// prober 网关探测器
// 所有请求带固定超时，探测失败收敛为 critical 子检查结果，不向外抛错
type prober struct {
	baseURL     string
	adminURL    string
	proxyToken  string
	sampleRoute string
	client      *http.Client
}

func newProber(cfg config.GatewayConfig) *prober {
	return &prober{
		baseURL:     cfg.BaseURL,
		adminURL:    cfg.AdminURL,
		proxyToken:  cfg.ProxyToken,
		sampleRoute: cfg.SampleRoute,
		client: &http.Client{
			Timeout: cfg.ProbeTimeoutDuration(),
		},
	}
}

// runChecks 执行四项子检查并归并为一次健康指标
// 归并规则：任一 critical 即 critical；否则存在非 ok 即 degraded；全部 ok 为 healthy
func (p *prober) runChecks(ctx context.Context, at time.Time) HealthMetric {
	ctx, span := otel.Tracer("gateway").Start(ctx, "prober.run_checks")
	defer span.End()

	checks := []struct {
		name string
		run  func(context.Context) SubCheckResult
	}{
		{"gateway_status", p.checkStatus},
		{"admin_api", p.checkAdminAPI},
		{"auth_proxy", p.checkAuthProxy},
		{"sample_route", p.checkSampleRoute},
	}

	metric := HealthMetric{
		Timestamp: at,
		SubChecks: make([]SubCheckResult, 0, len(checks)),
	}

	anyCritical := false
	allOK := true
	for _, c := range checks {
		result := c.run(ctx)
		result.Name = c.name
		metric.SubChecks = append(metric.SubChecks, result)
		metric.LatencyMS += result.LatencyMS

		metrics.GatewayProbesTotal.WithLabelValues(c.name, probeStatusLabel(result.Status)).Inc()
		metrics.GatewayProbeDuration.WithLabelValues(c.name).Observe(result.LatencyMS / 1000)

		switch result.Status {
		case SubCheckCritical:
			anyCritical = true
			allOK = false
		case SubCheckDegraded:
			allOK = false
		}
	}

	switch {
	case anyCritical:
		metric.Status = StatusCritical
	case !allOK:
		metric.Status = StatusDegraded
	default:
		metric.Status = StatusHealthy
	}

	span.SetAttributes(
		attribute.String("gateway.status", string(metric.Status)),
		attribute.Float64("gateway.latency_ms", metric.LatencyMS),
	)
	return metric
}

// checkStatus 网关进程可用性
func (p *prober) checkStatus(ctx context.Context) SubCheckResult {
	return p.probe(ctx, p.baseURL+"/health", nil)
}

// checkAdminAPI 管理 API 可达性
func (p *prober) checkAdminAPI(ctx context.Context) SubCheckResult {
	return p.probe(ctx, p.adminURL+"/status", nil)
}

// checkAuthProxy 认证代理链路
func (p *prober) checkAuthProxy(ctx context.Context) SubCheckResult {
	headers := map[string]string{}
	if p.proxyToken != "" {
		headers["Authorization"] = "Bearer " + p.proxyToken
	}
	return p.probe(ctx, p.baseURL+"/proxy/health", headers)
}

// checkSampleRoute 代表性路由可达性
func (p *prober) checkSampleRoute(ctx context.Context) SubCheckResult {
	route := p.sampleRoute
	if route == "" {
		route = "/"
	}
	return p.probe(ctx, p.baseURL+route, nil)
}

// probe 单次 HTTP 探测
// 网络错误 -> critical；5xx -> critical；4xx -> degraded；2xx/3xx -> ok
func (p *prober) probe(ctx context.Context, url string, headers map[string]string) SubCheckResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SubCheckResult{Status: SubCheckCritical, Detail: fmt.Sprintf("构造请求失败: %v", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		return SubCheckResult{
			Status:    SubCheckCritical,
			LatencyMS: elapsed,
			Detail:    fmt.Sprintf("探测失败: %v", err),
		}
	}
	defer resp.Body.Close()

	result := SubCheckResult{LatencyMS: elapsed}
	switch {
	case resp.StatusCode >= 500:
		result.Status = SubCheckCritical
		result.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		result.Status = SubCheckDegraded
		result.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	default:
		result.Status = SubCheckOK
	}
	return result
}

// probeStatusLabel 子检查状态 -> 指标标签
func probeStatusLabel(s SubCheckStatus) string {
	switch s {
	case SubCheckOK:
		return "ok"
	case SubCheckDegraded:
		return "degraded"
	default:
		return "failed"
	}
}
