package audit

import (
	"sort"
	"time"
)

// DashboardSummary 安全看板摘要
type DashboardSummary struct {
	WindowHours    int            `json:"window_hours"`
	TotalEvents    int            `json:"total_events"`
	BySeverity     map[string]int `json:"by_severity"`
	ByType         map[string]int `json:"by_type"`
	HighRiskEvents []SecurityEvent `json:"high_risk_events"` // 风险分 > 70
	TopUsers       []ActorCount   `json:"top_users"`
	TopIPs         []ActorCount   `json:"top_ips"`
	AnomalyCount   int            `json:"anomaly_count"`
}

// ActorCount 主体事件计数
type ActorCount struct {
	Actor string `json:"actor"`
	Count int    `json:"count"`
}

const (
	highRiskThreshold = 70
	topActorLimit     = 5
)

// Dashboard 生成窗口期内的安全看板摘要
func (e *Engine) Dashboard(windowHours int) DashboardSummary {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := e.now().Add(-time.Duration(windowHours) * time.Hour)
	events := e.store.snapshot(since, 0)

	summary := DashboardSummary{
		WindowHours: windowHours,
		TotalEvents: len(events),
		BySeverity:  make(map[string]int),
		ByType:      make(map[string]int),
	}

	userCounts := make(map[string]int)
	ipCounts := make(map[string]int)

	for i := range events {
		ev := &events[i]
		summary.BySeverity[ev.Severity.String()]++
		summary.ByType[string(ev.Type)]++

		if ev.RiskScore > highRiskThreshold {
			summary.HighRiskEvents = append(summary.HighRiskEvents, *ev)
		}
		if ev.Type == EventAnomalyDetection {
			summary.AnomalyCount++
		}
		if ev.Context.UserID != "" {
			userCounts[ev.Context.UserID]++
		}
		if ev.Context.ClientIP != "" {
			ipCounts[ev.Context.ClientIP]++
		}
	}

	// 高风险事件按风险分降序
	sort.Slice(summary.HighRiskEvents, func(i, j int) bool {
		return summary.HighRiskEvents[i].RiskScore > summary.HighRiskEvents[j].RiskScore
	})
	if len(summary.HighRiskEvents) > 10 {
		summary.HighRiskEvents = summary.HighRiskEvents[:10]
	}

	summary.TopUsers = topActors(userCounts, topActorLimit)
	summary.TopIPs = topActors(ipCounts, topActorLimit)

	return summary
}

// topActors 按计数取前 N
func topActors(counts map[string]int, limit int) []ActorCount {
	out := make([]ActorCount, 0, len(counts))
	for actor, n := range counts {
		out = append(out, ActorCount{Actor: actor, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Actor < out[j].Actor
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
