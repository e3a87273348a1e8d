package audit

import (
	"sync"
	"time"

	"apiguard/internal/config"
)

// AnomalyPattern 异常模式：固定名称 + 次数阈值 + 滑动时间窗口
// 引擎启动时注册，运行期不增删
type AnomalyPattern struct {
	Name        string
	EventTypes  []EventType // 命中的事件类型，空表示全部
	MinSeverity Severity    // 低于该级别的事件不计数
	Threshold   int         // 窗口内超过该次数触发
	Window      time.Duration
	Remediation []string // 触发后给出的处置建议

	mu     sync.Mutex
	window []windowEntry // 窗口内命中事件，时间序
}

type windowEntry struct {
	at time.Time
	id string
}

// matches 判断事件是否命中该模式
func (p *AnomalyPattern) matches(ev *SecurityEvent) bool {
	if ev.Severity < p.MinSeverity {
		return false
	}
	if len(p.EventTypes) == 0 {
		return true
	}
	for _, t := range p.EventTypes {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// feed 送入事件并判断是否跨越阈值
// 计数前先淘汰窗口外事件，保证窗口语义单调
// 返回 true 表示本次送入使计数从阈值内越到阈值外（每次跨越只触发一次）
func (p *AnomalyPattern) feed(ev *SecurityEvent) bool {
	if !p.matches(ev) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := ev.Timestamp.Add(-p.Window)
	kept := p.window[:0]
	for _, e := range p.window {
		if !e.at.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	p.window = kept

	before := len(p.window)
	p.window = append(p.window, windowEntry{at: ev.Timestamp, id: ev.ID})

	return before == p.Threshold // 本次事件使计数首次超过阈值
}

// occupancy 当前窗口内计数（先按 now 淘汰）
func (p *AnomalyPattern) occupancy(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.Window)
	n := 0
	for _, e := range p.window {
		if !e.at.Before(cutoff) {
			n++
		}
	}
	return n
}

// DefaultAnomalyPatterns 内置异常模式注册表
func DefaultAnomalyPatterns() []*AnomalyPattern {
	return []*AnomalyPattern{
		{
			Name:        "repeated_auth_failure",
			EventTypes:  []EventType{EventAuthentication, EventAuthorization},
			MinSeverity: SeverityMedium,
			Threshold:   3,
			Window:      10 * time.Minute,
			Remediation: []string{"核查该主体近期登录来源", "必要时临时锁定账号"},
		},
		{
			Name:        "rapid_resource_access",
			EventTypes:  []EventType{EventDataAccess},
			MinSeverity: SeverityLow,
			Threshold:   50,
			Window:      5 * time.Minute,
			Remediation: []string{"确认是否为爬取行为", "评估对该主体限速"},
		},
		{
			Name:        "privilege_escalation_attempts",
			EventTypes:  []EventType{EventAuthorization},
			MinSeverity: SeverityHigh,
			Threshold:   5,
			Window:      30 * time.Minute,
			Remediation: []string{"复核该主体权限变更记录", "通知安全值班复盘"},
		},
		{
			Name:        "bulk_data_access",
			EventTypes:  []EventType{EventDataAccess},
			MinSeverity: SeverityMedium,
			Threshold:   20,
			Window:      10 * time.Minute,
			Remediation: []string{"确认导出行为是否经过审批"},
		},
		{
			Name:        "injection_attempts",
			EventTypes:  []EventType{EventInputValidation},
			MinSeverity: SeverityMedium,
			Threshold:   3,
			Window:      15 * time.Minute,
			Remediation: []string{"封禁来源 IP 并保留取证数据", "复核危险模式表覆盖度"},
		},
	}
}

// PatternsFromSpecs 从配置文件定义构建异常模式注册表
func PatternsFromSpecs(specs []config.AnomalyPatternSpec) []*AnomalyPattern {
	out := make([]*AnomalyPattern, 0, len(specs))
	for _, s := range specs {
		types := make([]EventType, 0, len(s.EventTypes))
		for _, t := range s.EventTypes {
			types = append(types, EventType(t))
		}
		out = append(out, &AnomalyPattern{
			Name:        s.Name,
			EventTypes:  types,
			MinSeverity: ParseSeverity(s.MinSeverity),
			Threshold:   s.Threshold,
			Window:      time.Duration(s.WindowMinutes) * time.Minute,
			Remediation: s.Remediation,
		})
	}
	return out
}
