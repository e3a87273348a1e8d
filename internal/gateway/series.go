package gateway

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus 聚合健康状态
type HealthStatus string

const (
	// StatusHealthy 全部子检查通过
	StatusHealthy HealthStatus = "healthy"
	// StatusDegraded 部分子检查未通过
	StatusDegraded HealthStatus = "degraded"
	// StatusCritical 任一子检查严重失败
	StatusCritical HealthStatus = "critical"
)

// HealthMetric 单次健康检查产出的指标点
type HealthMetric struct {
	Timestamp time.Time        `json:"timestamp"`
	Status    HealthStatus     `json:"status"`
	LatencyMS float64          `json:"latency_ms"` // 全部子检查总耗时
	SubChecks []SubCheckResult `json:"sub_checks"`
}

// PerformanceReport 窗口期性能聚合
type PerformanceReport struct {
	WindowHours   int     `json:"window_hours"`
	TotalChecks   int     `json:"total_checks"`
	SuccessChecks int     `json:"success_checks"`
	FailureChecks int     `json:"failure_checks"`
	SuccessRate   float64 `json:"success_rate"`
	ErrorRate     float64 `json:"error_rate"`

	LatencyMinMS    float64  `json:"latency_min_ms"`
	LatencyMaxMS    float64  `json:"latency_max_ms"`
	LatencyMeanMS   float64  `json:"latency_mean_ms"`
	LatencyMedianMS float64  `json:"latency_median_ms"`
	LatencyP95MS    *float64 `json:"latency_p95_ms"` // 样本不足 20 时为 null
	LatencyP99MS    *float64 `json:"latency_p99_ms"` // 样本不足 100 时为 null
}

// metricSeries 有界指标序列
// 写入超容量时淘汰最旧，读取与清理按时间窗口
type metricSeries struct {
	mu       sync.RWMutex
	points   []HealthMetric
	capacity int
}

func newMetricSeries(capacity int) *metricSeries {
	if capacity <= 0 {
		capacity = 5000
	}
	return &metricSeries{
		points:   make([]HealthMetric, 0, capacity),
		capacity: capacity,
	}
}

// add 追加指标点，超容量淘汰最旧
func (s *metricSeries) add(m HealthMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.points) >= s.capacity {
		s.points = s.points[1:]
	}
	s.points = append(s.points, m)
}

// latest 最近一次指标点
func (s *metricSeries) latest() (HealthMetric, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.points) == 0 {
		return HealthMetric{}, false
	}
	return s.points[len(s.points)-1], true
}

// since 窗口内指标点快照（时间序）
func (s *metricSeries) since(cutoff time.Time) []HealthMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 时间序存储，二分找窗口起点
	i := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Timestamp.Before(cutoff)
	})
	out := make([]HealthMetric, len(s.points)-i)
	copy(out, s.points[i:])
	return out
}

// prune 丢弃窗口外的旧指标点，返回丢弃数量
func (s *metricSeries) prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Timestamp.Before(cutoff)
	})
	if i == 0 {
		return 0
	}
	s.points = append(s.points[:0], s.points[i:]...)
	return i
}

// size 当前指标点数量
func (s *metricSeries) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// aggregate 计算窗口内的性能聚合
func aggregate(points []HealthMetric, windowHours int) PerformanceReport {
	report := PerformanceReport{
		WindowHours: windowHours,
		TotalChecks: len(points),
	}
	if len(points) == 0 {
		return report
	}

	latencies := make([]float64, 0, len(points))
	for i := range points {
		if points[i].Status == StatusHealthy {
			report.SuccessChecks++
		} else {
			report.FailureChecks++
		}
		latencies = append(latencies, points[i].LatencyMS)
	}
	report.SuccessRate = float64(report.SuccessChecks) / float64(report.TotalChecks)
	report.ErrorRate = float64(report.FailureChecks) / float64(report.TotalChecks)

	sort.Float64s(latencies)
	report.LatencyMinMS = latencies[0]
	report.LatencyMaxMS = latencies[len(latencies)-1]
	report.LatencyMedianMS = percentile(latencies, 50)

	var sum float64
	for _, v := range latencies {
		sum += v
	}
	report.LatencyMeanMS = sum / float64(len(latencies))

	// 分位数对样本量有下限要求，不足时报告不可用
	if len(latencies) >= 20 {
		p95 := percentile(latencies, 95)
		report.LatencyP95MS = &p95
	}
	if len(latencies) >= 100 {
		p99 := percentile(latencies, 99)
		report.LatencyP99MS = &p99
	}
	return report
}

// percentile 最近秩法取分位数，输入必须已排序
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(float64(len(sorted))*p/100+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
