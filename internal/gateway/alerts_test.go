package gateway

import (
	"sync"
	"testing"
	"time"
)

// recordingSink 记录告警事件的测试出口
type recordingSink struct {
	mu      sync.Mutex
	raised  []Alert
	cleared []Alert
}

func (s *recordingSink) AlertRaised(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raised = append(s.raised, a)
}

func (s *recordingSink) AlertCleared(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, a)
}

func testThresholds() thresholds {
	return thresholds{
		errorRateWarning:  0.05,
		errorRateCritical: 0.20,
		latencyWarningMS:  2000,
		latencyCriticalMS: 5000,
	}
}

func report(errorRate, meanLatencyMS float64) PerformanceReport {
	return PerformanceReport{
		TotalChecks:   100,
		ErrorRate:     errorRate,
		SuccessRate:   1 - errorRate,
		LatencyMeanMS: meanLatencyMS,
	}
}

func TestAlertRaiseIdempotent(t *testing.T) {
	sink := &recordingSink{}
	m := newAlertManager(nil, sink, time.Now)

	m.evaluate(report(0.30, 100), testThresholds())
	m.evaluate(report(0.35, 100), testThresholds())

	active := m.activeAlerts()
	if len(active) != 1 {
		t.Fatalf("重复触发不应产生重复告警, 得到 %d", len(active))
	}
	if active[0].ID != "error_rate" || active[0].Severity != AlertCritical {
		t.Errorf("告警内容不匹配: %+v", active[0])
	}
	if active[0].Value != 0.35 {
		t.Errorf("重复触发应刷新观测值, 得到 %f", active[0].Value)
	}
	if len(sink.raised) != 1 {
		t.Errorf("出口只应收到一次抬升事件, 得到 %d", len(sink.raised))
	}
}

func TestAlertSeverityEscalation(t *testing.T) {
	m := newAlertManager(nil, nil, time.Now)

	m.evaluate(report(0.10, 100), testThresholds()) // warning
	m.evaluate(report(0.30, 100), testThresholds()) // critical

	active := m.activeAlerts()
	if len(active) != 1 || active[0].Severity != AlertCritical {
		t.Errorf("告警级别应升级为 critical: %+v", active)
	}
}

func TestAlertHysteresis(t *testing.T) {
	sink := &recordingSink{}
	m := newAlertManager(nil, sink, time.Now)

	// 抬升
	m.evaluate(report(0.30, 100), testThresholds())
	if len(m.activeAlerts()) != 1 {
		t.Fatal("越过阈值应抬升告警")
	}

	// 回落后清除并归入历史
	m.evaluate(report(0.01, 100), testThresholds())
	if len(m.activeAlerts()) != 0 {
		t.Fatal("回落到阈值之下应清除告警")
	}

	history := m.alertHistory(0)
	if len(history) != 1 {
		t.Fatalf("清除的告警应归入历史, 得到 %d", len(history))
	}
	if history[0].ResolvedAt == nil {
		t.Error("历史告警应带 resolved_at")
	}
	if len(sink.cleared) != 1 {
		t.Errorf("出口应收到一次恢复事件, 得到 %d", len(sink.cleared))
	}
}

func TestAlertLatencyThresholds(t *testing.T) {
	m := newAlertManager(nil, nil, time.Now)

	m.evaluate(report(0, 3000), testThresholds())
	active := m.activeAlerts()
	if len(active) != 1 || active[0].ID != "high_latency" || active[0].Severity != AlertWarning {
		t.Errorf("平均延迟越过告警阈值应抬升 warning: %+v", active)
	}

	m.evaluate(report(0, 6000), testThresholds())
	if got := m.activeAlerts(); len(got) != 1 || got[0].Severity != AlertCritical {
		t.Errorf("延迟越过严重阈值应升级: %+v", got)
	}
}

func TestAlertNoDataNoChange(t *testing.T) {
	m := newAlertManager(nil, nil, time.Now)

	m.evaluate(report(0.30, 100), testThresholds())
	if len(m.activeAlerts()) != 1 {
		t.Fatal("前置条件：存在活跃告警")
	}

	// 无数据的聚合既不抬升也不清除
	m.evaluate(PerformanceReport{}, testThresholds())
	if len(m.activeAlerts()) != 1 {
		t.Error("无数据不应清除已有告警")
	}
}

func TestCustomRuleExpression(t *testing.T) {
	m := newAlertManager(map[string]string{
		"low_success": "success_rate < 0.9",
		"broken_expr": "((success_rate", // 非法表达式跳过
	}, nil, time.Now)

	if len(m.rules) != 1 {
		t.Fatalf("非法表达式应被跳过, 得到 %d 条规则", len(m.rules))
	}

	m.evaluate(report(0.15, 100), testThresholds())
	found := false
	for _, a := range m.activeAlerts() {
		if a.ID == "low_success" {
			found = true
		}
	}
	if !found {
		t.Error("自定义规则命中应抬升告警")
	}

	// 恢复后清除
	m.evaluate(report(0.01, 100), testThresholds())
	for _, a := range m.activeAlerts() {
		if a.ID == "low_success" {
			t.Error("自定义规则恢复后应清除告警")
		}
	}
}
