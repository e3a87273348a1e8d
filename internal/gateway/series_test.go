package gateway

import (
	"testing"
	"time"
)

func seriesPoint(at time.Time, status HealthStatus, latencyMS float64) HealthMetric {
	return HealthMetric{Timestamp: at, Status: status, LatencyMS: latencyMS}
}

func TestSeriesCapacityEviction(t *testing.T) {
	s := newMetricSeries(3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.add(seriesPoint(base.Add(time.Duration(i)*time.Second), StatusHealthy, float64(i)))
	}

	if s.size() != 3 {
		t.Fatalf("容量 3 应淘汰最旧, 得到 %d", s.size())
	}
	latest, ok := s.latest()
	if !ok || latest.LatencyMS != 4 {
		t.Errorf("最新点应为最后写入: %+v", latest)
	}
}

func TestSeriesSinceAndPrune(t *testing.T) {
	s := newMetricSeries(100)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		s.add(seriesPoint(base.Add(time.Duration(i)*time.Minute), StatusHealthy, 1))
	}

	got := s.since(base.Add(5 * time.Minute))
	if len(got) != 5 {
		t.Errorf("窗口快照应为 5 条, 得到 %d", len(got))
	}

	if dropped := s.prune(base.Add(7 * time.Minute)); dropped != 7 {
		t.Errorf("应丢弃 7 条, 得到 %d", dropped)
	}
	if s.size() != 3 {
		t.Errorf("清理后应剩 3 条, 得到 %d", s.size())
	}
}

func TestAggregateEmpty(t *testing.T) {
	report := aggregate(nil, 24)
	if report.TotalChecks != 0 || report.SuccessRate != 0 {
		t.Errorf("空窗口应返回零值报告: %+v", report)
	}
	if report.LatencyP95MS != nil || report.LatencyP99MS != nil {
		t.Error("空窗口分位数应不可用")
	}
}

func TestAggregateRates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	points := []HealthMetric{
		seriesPoint(base, StatusHealthy, 100),
		seriesPoint(base, StatusHealthy, 200),
		seriesPoint(base, StatusDegraded, 300),
		seriesPoint(base, StatusCritical, 400),
	}

	report := aggregate(points, 24)
	if report.TotalChecks != 4 || report.SuccessChecks != 2 || report.FailureChecks != 2 {
		t.Errorf("计数不匹配: %+v", report)
	}
	if report.SuccessRate != 0.5 || report.ErrorRate != 0.5 {
		t.Errorf("比率不匹配: success=%f error=%f", report.SuccessRate, report.ErrorRate)
	}
	if report.LatencyMinMS != 100 || report.LatencyMaxMS != 400 || report.LatencyMeanMS != 250 {
		t.Errorf("延迟统计不匹配: %+v", report)
	}
}

func TestAggregatePercentileSampleFloor(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mk := func(n int) []HealthMetric {
		points := make([]HealthMetric, 0, n)
		for i := 1; i <= n; i++ {
			points = append(points, seriesPoint(base, StatusHealthy, float64(i)))
		}
		return points
	}

	// 19 个样本：p95 与 p99 均不可用
	r := aggregate(mk(19), 24)
	if r.LatencyP95MS != nil || r.LatencyP99MS != nil {
		t.Error("样本不足 20 时 p95/p99 应不可用")
	}

	// 20 个样本：p95 可用，p99 不可用
	r = aggregate(mk(20), 24)
	if r.LatencyP95MS == nil {
		t.Fatal("20 个样本 p95 应可用")
	}
	if r.LatencyP99MS != nil {
		t.Error("样本不足 100 时 p99 应不可用")
	}

	// 100 个样本 1..100：校验分位数取值
	r = aggregate(mk(100), 24)
	if r.LatencyP95MS == nil || *r.LatencyP95MS != 95 {
		t.Errorf("p95 应为 95, 得到 %v", r.LatencyP95MS)
	}
	if r.LatencyP99MS == nil || *r.LatencyP99MS != 99 {
		t.Errorf("p99 应为 99, 得到 %v", r.LatencyP99MS)
	}
	if r.LatencyMedianMS != 50 {
		t.Errorf("中位数应为 50, 得到 %f", r.LatencyMedianMS)
	}
}
