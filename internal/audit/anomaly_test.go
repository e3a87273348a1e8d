package audit

import (
	"fmt"
	"testing"
	"time"
)

func patternEvent(t EventType, sev Severity, at time.Time, seq int) *SecurityEvent {
	return &SecurityEvent{
		ID:        fmt.Sprintf("ev-%d", seq),
		Timestamp: at,
		Type:      t,
		Severity:  sev,
	}
}

func TestPatternMatches(t *testing.T) {
	p := &AnomalyPattern{
		EventTypes:  []EventType{EventAuthentication},
		MinSeverity: SeverityMedium,
	}
	now := time.Now()

	if p.matches(patternEvent(EventAuthentication, SeverityLow, now, 1)) {
		t.Error("低于最低级别不应命中")
	}
	if p.matches(patternEvent(EventDataAccess, SeverityHigh, now, 2)) {
		t.Error("类型不在列表不应命中")
	}
	if !p.matches(patternEvent(EventAuthentication, SeverityMedium, now, 3)) {
		t.Error("类型与级别均满足应当命中")
	}

	// 类型列表为空表示全部类型
	any := &AnomalyPattern{MinSeverity: SeverityLow}
	if !any.matches(patternEvent(EventCompliance, SeverityLow, now, 4)) {
		t.Error("空类型列表应命中任意类型")
	}
}

func TestPatternWindowEviction(t *testing.T) {
	p := &AnomalyPattern{
		MinSeverity: SeverityLow,
		Threshold:   3,
		Window:      10 * time.Minute,
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 前 3 条在窗口起点附近
	for i := 0; i < 3; i++ {
		if p.feed(patternEvent(EventDataAccess, SeverityLow, base.Add(time.Duration(i)*time.Second), i)) {
			t.Errorf("第 %d 条不应触发", i+1)
		}
	}
	if got := p.occupancy(base.Add(3 * time.Second)); got != 3 {
		t.Errorf("窗口计数应为 3, 得到 %d", got)
	}

	// 11 分钟后旧事件全部过期，新事件从零计数
	later := base.Add(11 * time.Minute)
	if p.feed(patternEvent(EventDataAccess, SeverityLow, later, 10)) {
		t.Error("旧事件过期后不应触发")
	}
	if got := p.occupancy(later); got != 1 {
		t.Errorf("过期淘汰后窗口计数应为 1, 得到 %d", got)
	}
}

func TestPatternTriggersOnCrossingOnly(t *testing.T) {
	p := &AnomalyPattern{
		MinSeverity: SeverityLow,
		Threshold:   3,
		Window:      time.Hour,
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	triggers := 0
	for i := 0; i < 6; i++ {
		if p.feed(patternEvent(EventDataAccess, SeverityLow, base.Add(time.Duration(i)*time.Second), i)) {
			triggers++
			if i != 3 {
				t.Errorf("触发应发生在第 4 条, 实际第 %d 条", i+1)
			}
		}
	}
	if triggers != 1 {
		t.Errorf("连续超阈值只应触发一次, 得到 %d", triggers)
	}
}

func TestPatternRetriggersAfterWindowReset(t *testing.T) {
	p := &AnomalyPattern{
		MinSeverity: SeverityLow,
		Threshold:   2,
		Window:      5 * time.Minute,
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// 第一轮跨越
	for i := 0; i < 2; i++ {
		p.feed(patternEvent(EventDataAccess, SeverityLow, base.Add(time.Duration(i)*time.Second), i))
	}
	if !p.feed(patternEvent(EventDataAccess, SeverityLow, base.Add(2*time.Second), 2)) {
		t.Fatal("第一轮第 3 条应触发")
	}

	// 窗口排空后可再次跨越
	round2 := base.Add(20 * time.Minute)
	for i := 0; i < 2; i++ {
		p.feed(patternEvent(EventDataAccess, SeverityLow, round2.Add(time.Duration(i)*time.Second), 10+i))
	}
	if !p.feed(patternEvent(EventDataAccess, SeverityLow, round2.Add(2*time.Second), 12)) {
		t.Error("窗口排空后再次跨越应触发")
	}
}

func TestDefaultAnomalyPatterns(t *testing.T) {
	patterns := DefaultAnomalyPatterns()
	if len(patterns) != 5 {
		t.Fatalf("内置模式应为 5 个, 得到 %d", len(patterns))
	}

	byName := make(map[string]*AnomalyPattern, len(patterns))
	for _, p := range patterns {
		if p.Threshold <= 0 || p.Window <= 0 {
			t.Errorf("模式 %s 阈值/窗口非法", p.Name)
		}
		byName[p.Name] = p
	}

	auth := byName["repeated_auth_failure"]
	if auth == nil || auth.Threshold != 3 || auth.Window != 10*time.Minute {
		t.Errorf("repeated_auth_failure 定义不匹配: %+v", auth)
	}
}
