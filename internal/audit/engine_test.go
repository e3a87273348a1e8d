package audit

import (
	"context"
	"testing"
	"time"

	"apiguard/internal/queryguard"
)

// fakeClock 可推进的测试时钟
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	// 每次取值推进 1ms，保证事件 ID 唯一
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func queryAuditFixture(op string, elevated bool) queryguard.QueryAuditRecord {
	return queryguard.QueryAuditRecord{
		Operation:    op,
		Table:        "users",
		ParamPreview: map[string]string{"id": "42"},
		Hash:         "deadbeef",
		Elevated:     elevated,
	}
}

func TestLogBasicEvent(t *testing.T) {
	e := NewEngine(100)
	ctx := context.Background()

	ev := e.Log(ctx, EventAuthentication, SeverityMedium, "login failed", "密码错误", EventContext{
		UserID:   "u-1",
		ClientIP: "10.0.0.1",
	})

	if ev == nil {
		t.Fatal("Log 返回 nil")
	}
	if ev.ID == "" {
		t.Error("事件 ID 为空")
	}
	if ev.Status != StatusNew {
		t.Errorf("初始状态应为 new, 得到 %s", ev.Status)
	}
	if ev.Category != "identification_and_authentication_failures" {
		t.Errorf("合规分类不匹配: %s", ev.Category)
	}
	if ev.RiskScore < 0 || ev.RiskScore > 100 {
		t.Errorf("风险分越界: %d", ev.RiskScore)
	}
}

func TestRiskScoreMonotonicInSeverity(t *testing.T) {
	for _, typ := range []EventType{
		EventAuthentication, EventAuthorization, EventDataAccess,
		EventSystemIntegrity, EventInputValidation,
	} {
		e := NewEngine(1000)
		prev := -1
		for sev := SeverityLow; sev <= SeverityEmergency; sev++ {
			ev := e.Log(context.Background(), typ, sev, "t", "d", EventContext{})
			if ev.RiskScore < prev {
				t.Errorf("类型 %s: 级别 %s 的风险分 %d 低于上一级别 %d",
					typ, sev, ev.RiskScore, prev)
			}
			if ev.RiskScore < 0 || ev.RiskScore > 100 {
				t.Errorf("风险分越界: %d", ev.RiskScore)
			}
			prev = ev.RiskScore
		}
	}
}

func TestRiskScoreContextAdjustment(t *testing.T) {
	e := NewEngine(1000)
	ctx := context.Background()

	// 基线：无历史活动
	base := e.Log(ctx, EventDataAccess, SeverityMedium, "read", "d", EventContext{UserID: "quiet"})

	// 同一主体一小时内超过 10 次后应加分
	for i := 0; i < 12; i++ {
		e.Log(ctx, EventDataAccess, SeverityMedium, "read", "d", EventContext{UserID: "noisy"})
	}
	boosted := e.Log(ctx, EventDataAccess, SeverityMedium, "read", "d", EventContext{UserID: "noisy"})

	if boosted.RiskScore <= base.RiskScore {
		t.Errorf("高频主体应获得风险加分: 基线 %d, 高频 %d", base.RiskScore, boosted.RiskScore)
	}
}

func TestFallbackEventOnBadMetadata(t *testing.T) {
	e := NewEngine(100)

	ev := e.Log(context.Background(), EventDataAccess, SeverityLow, "t", "d", EventContext{
		Details: map[string]any{"bad": make(chan int)}, // 不可序列化
	})

	if ev == nil {
		t.Fatal("内部失败时必须返回回退事件而非 nil")
	}
	if ev.Type != EventSystemIntegrity {
		t.Errorf("回退事件类型应为 system_integrity, 得到 %s", ev.Type)
	}
	if ev.Severity != SeverityHigh {
		t.Errorf("回退事件级别应为 high, 得到 %s", ev.Severity)
	}
}

func TestStatusTransitions(t *testing.T) {
	e := NewEngine(100)
	ev := e.Log(context.Background(), EventAuthorization, SeverityHigh, "t", "d", EventContext{})

	if err := e.UpdateStatus(ev.ID, StatusInvestigating); err != nil {
		t.Fatalf("new -> investigating 应当合法: %v", err)
	}
	if err := e.UpdateStatus(ev.ID, StatusConfirmed); err != nil {
		t.Fatalf("investigating -> confirmed 应当合法: %v", err)
	}
	if err := e.UpdateStatus(ev.ID, StatusNew); err == nil {
		t.Error("confirmed -> new 应当非法")
	}
	if err := e.UpdateStatus(ev.ID, StatusResolved); err != nil {
		t.Fatalf("confirmed -> resolved 应当合法: %v", err)
	}
	if err := e.UpdateStatus("missing", StatusResolved); err == nil {
		t.Error("不存在的事件应当报错")
	}
}

func TestAnomalyScenarioRepeatedAuthFailure(t *testing.T) {
	// 阈值 3 / 窗口 10 分钟：第 4 条事件应合成一条回指它的派生异常
	clock := newFakeClock()
	e := NewEngine(1000,
		WithPatterns([]*AnomalyPattern{{
			Name:        "repeated_auth_failure",
			EventTypes:  []EventType{EventAuthorization},
			MinSeverity: SeverityMedium,
			Threshold:   3,
			Window:      10 * time.Minute,
		}}),
		withClock(clock.now),
	)
	ctx := context.Background()

	var last *SecurityEvent
	for i := 0; i < 4; i++ {
		last = e.Log(ctx, EventAuthorization, SeverityHigh, "permission denied", "拒绝访问", EventContext{
			UserID: "u-42",
		})
	}

	events := e.RecentEvents(1, 0)
	var anomalies []SecurityEvent
	for _, ev := range events {
		if ev.Type == EventAnomalyDetection {
			anomalies = append(anomalies, ev)
		}
	}

	if len(anomalies) != 1 {
		t.Fatalf("期望恰好 1 条派生异常, 得到 %d", len(anomalies))
	}
	if anomalies[0].TriggeredBy != last.ID {
		t.Errorf("派生异常应回指第 4 条事件: 期望 %s, 得到 %s", last.ID, anomalies[0].TriggeredBy)
	}
	if anomalies[0].Severity != SeverityHigh {
		t.Errorf("派生异常级别应为 high, 得到 %s", anomalies[0].Severity)
	}
	if anomalies[0].RiskScore != 85 {
		t.Errorf("派生异常风险分应为固定值 85, 得到 %d", anomalies[0].RiskScore)
	}
}

func TestAnomalyOncePerCrossing(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(1000,
		WithPatterns([]*AnomalyPattern{{
			Name:        "injection_attempts",
			EventTypes:  []EventType{EventInputValidation},
			MinSeverity: SeverityMedium,
			Threshold:   3,
			Window:      15 * time.Minute,
		}}),
		withClock(clock.now),
	)
	ctx := context.Background()

	// 连续 8 条事件只应触发一次（计数未回落）
	for i := 0; i < 8; i++ {
		e.Log(ctx, EventInputValidation, SeverityMedium, "injection blocked", "d", EventContext{})
	}

	anomalies := 0
	for _, ev := range e.RecentEvents(1, 0) {
		if ev.Type == EventAnomalyDetection {
			anomalies++
		}
	}
	if anomalies != 1 {
		t.Errorf("同一窗口内应只触发一次, 得到 %d", anomalies)
	}
}

func TestRingBufferEviction(t *testing.T) {
	e := NewEngine(10)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		e.Log(ctx, EventDataAccess, SeverityLow, "read", "d", EventContext{UserID: "u-1"})
	}

	if got := e.EventCount(); got != 10 {
		t.Errorf("环形缓冲应保持容量 10, 得到 %d", got)
	}
}

func TestDashboardSummary(t *testing.T) {
	e := NewEngine(1000)
	ctx := context.Background()

	e.Log(ctx, EventAuthentication, SeverityLow, "login", "d", EventContext{UserID: "u-1", ClientIP: "10.0.0.1"})
	e.Log(ctx, EventAuthorization, SeverityEmergency, "escalation", "d", EventContext{UserID: "u-2", ClientIP: "10.0.0.2"})
	e.Log(ctx, EventDataAccess, SeverityMedium, "read", "d", EventContext{UserID: "u-1", ClientIP: "10.0.0.1"})

	summary := e.Dashboard(24)

	if summary.TotalEvents != 3 {
		t.Errorf("事件总数不匹配: %d", summary.TotalEvents)
	}
	if summary.ByType["authorization"] != 1 {
		t.Errorf("按类型计数不匹配: %v", summary.ByType)
	}
	if len(summary.HighRiskEvents) == 0 {
		t.Error("emergency 级授权事件应进入高风险列表")
	}
	if len(summary.TopUsers) == 0 || summary.TopUsers[0].Actor != "u-1" {
		t.Errorf("Top 用户应为 u-1: %v", summary.TopUsers)
	}
}

func TestComplianceReport(t *testing.T) {
	e := NewEngine(1000)
	ctx := context.Background()

	e.Log(ctx, EventAuthorization, SeverityHigh, "escalation", "d", EventContext{UserID: "u-1"})
	e.Log(ctx, EventInputValidation, SeverityLow, "minor", "d", EventContext{})

	report := e.Compliance("")

	if report.ReportNo == "" {
		t.Error("报告编号为空")
	}
	if report.CategoryTotals["broken_access_control"] != 1 {
		t.Errorf("分类计数不匹配: %v", report.CategoryTotals)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("未处置高严重事件应计为违规: %d", len(report.Violations))
	}
	if len(report.Violations[0].Remediation) == 0 {
		t.Error("违规应附带整改建议")
	}

	// 指定分类过滤
	filtered := e.Compliance("injection")
	if filtered.CategoryTotals["broken_access_control"] != 0 {
		t.Errorf("分类过滤未生效: %v", filtered.CategoryTotals)
	}
}

func TestQueryBuildAudit(t *testing.T) {
	e := NewEngine(100)

	e.LogQueryBuild(context.Background(), queryAuditFixture("DELETE", true))
	e.LogQueryBuild(context.Background(), queryAuditFixture("SELECT", false))

	events := e.RecentEvents(1, 0)
	if len(events) != 2 {
		t.Fatalf("期望 2 条审计事件, 得到 %d", len(events))
	}

	// 最新在前：SELECT 在前，DELETE 在后
	if events[1].Severity != SeverityHigh {
		t.Errorf("DELETE 审计应为 high 级别, 得到 %s", events[1].Severity)
	}
	if events[0].Severity != SeverityLow {
		t.Errorf("SELECT 审计应为 low 级别, 得到 %s", events[0].Severity)
	}
}
