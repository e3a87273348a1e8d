package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"apiguard/internal/config"
)

func testGatewayConfig(baseURL string) config.GatewayConfig {
	return config.GatewayConfig{
		BaseURL:           baseURL,
		AdminURL:          baseURL + "/admin",
		ProxyToken:        "test-token",
		SampleRoute:       "/v1/sample",
		CheckInterval:     30,
		AggregateInterval: 60,
		RetentionHours:    24,
		ProbeTimeout:      2,
		ErrorRateWarning:  0.05,
		ErrorRateCritical: 0.20,
		LatencyWarningMS:  2000,
		LatencyCriticalMS: 5000,
	}
}

func TestProberAllHealthy(t *testing.T) {
	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/proxy/health" && r.Header.Get("Authorization") == "Bearer test-token" {
			sawAuth.Store(true)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newProber(testGatewayConfig(srv.URL))
	metric := p.runChecks(context.Background(), time.Now())

	if metric.Status != StatusHealthy {
		t.Errorf("全部子检查通过应为 healthy, 得到 %s", metric.Status)
	}
	if len(metric.SubChecks) != 4 {
		t.Fatalf("应有 4 项子检查, 得到 %d", len(metric.SubChecks))
	}
	for _, c := range metric.SubChecks {
		if c.Status != SubCheckOK {
			t.Errorf("子检查 %s 应为 ok, 得到 %s", c.Name, c.Status)
		}
	}
	if !sawAuth.Load() {
		t.Error("认证代理探测应携带令牌")
	}
}

func TestProberDegradedOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/sample" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newProber(testGatewayConfig(srv.URL))
	metric := p.runChecks(context.Background(), time.Now())

	if metric.Status != StatusDegraded {
		t.Errorf("单项 4xx 应归并为 degraded, 得到 %s", metric.Status)
	}
}

func TestProberCriticalOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newProber(testGatewayConfig(srv.URL))
	metric := p.runChecks(context.Background(), time.Now())

	if metric.Status != StatusCritical {
		t.Errorf("任一 5xx 应归并为 critical, 得到 %s", metric.Status)
	}
}

func TestProberUnreachableGateway(t *testing.T) {
	// 已关闭的服务器模拟网关不可达
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := newProber(testGatewayConfig(srv.URL))
	metric := p.runChecks(context.Background(), time.Now())

	if metric.Status != StatusCritical {
		t.Errorf("网关不可达应为 critical, 得到 %s", metric.Status)
	}
	// 探测失败收敛到结果内，不允许向上抛错
	for _, c := range metric.SubChecks {
		if c.Status != SubCheckCritical || c.Detail == "" {
			t.Errorf("失败子检查应带 critical 与失败详情: %+v", c)
		}
	}
}

func TestMonitorSummaryBeforeFirstCheck(t *testing.T) {
	m := NewMonitor(testGatewayConfig("http://127.0.0.1:0"))

	summary := m.GetHealthSummary()
	if summary.HasData {
		t.Error("未探测前不应报告有数据")
	}
	if summary.Status != StatusDegraded {
		t.Errorf("无数据时保守报告 degraded, 得到 %s", summary.Status)
	}
}

func TestMonitorCheckAndAggregate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(testGatewayConfig(srv.URL))
	m.runCheck()
	m.runCheck()

	summary := m.GetHealthSummary()
	if !summary.HasData || summary.Status != StatusHealthy {
		t.Errorf("探测后摘要应为 healthy: %+v", summary)
	}
	if summary.MetricCount != 2 {
		t.Errorf("应记录 2 个指标点, 得到 %d", summary.MetricCount)
	}

	perf := m.GetPerformanceMetrics(1)
	if perf.TotalChecks != 2 || perf.SuccessRate != 1 {
		t.Errorf("性能聚合不匹配: %+v", perf)
	}
}

func TestMonitorAggregationRaisesAlert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMonitor(testGatewayConfig(srv.URL))
	m.runCheck()
	m.runAggregation()

	active := m.ActiveAlerts()
	found := false
	for _, a := range active {
		if a.ID == "error_rate" && a.Severity == AlertCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("全量失败应抬升 error_rate critical 告警: %+v", active)
	}
}

func TestMonitorStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(testGatewayConfig(srv.URL))
	m.Start()
	m.Start() // 幂等

	// 启动时立即执行一轮探测
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.GetHealthSummary().HasData {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !m.GetHealthSummary().HasData {
		t.Fatal("启动后应完成首轮探测")
	}

	m.Stop()
	m.Stop() // 幂等

	// 停止后指标不丢失
	if m.GetHealthSummary().MetricCount == 0 {
		t.Error("停止后已记录指标应保留")
	}
}
