package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EventType 安全事件类型
type EventType string

const (
	EventAuthentication   EventType = "authentication"    // 认证
	EventAuthorization    EventType = "authorization"     // 授权
	EventDataAccess       EventType = "data_access"       // 数据访问
	EventInputValidation  EventType = "input_validation"  // 输入校验
	EventSessionMgmt      EventType = "session_management" // 会话管理
	EventSystemIntegrity  EventType = "system_integrity"  // 系统完整性
	EventAnomalyDetection EventType = "anomaly_detection" // 异常检测
	EventCompliance       EventType = "compliance_violation" // 合规违规
	EventSecurityConfig   EventType = "security_configuration" // 安全配置
	EventIncidentResponse EventType = "incident_response" // 事件响应
)

// Severity 事件严重级别，序数可比较
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityEmergency
)

// String 返回级别名称
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ParseSeverity 解析级别名称，未知时返回 SeverityLow
func ParseSeverity(s string) Severity {
	switch s {
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	case "emergency":
		return SeverityEmergency
	default:
		return SeverityLow
	}
}

// EventStatus 事件处置状态
type EventStatus string

const (
	StatusNew           EventStatus = "new"
	StatusInvestigating EventStatus = "investigating"
	StatusConfirmed     EventStatus = "confirmed"
	StatusResolved      EventStatus = "resolved"
	StatusFalsePositive EventStatus = "false_positive"
)

// legalTransitions 合法的状态迁移表
var legalTransitions = map[EventStatus][]EventStatus{
	StatusNew:           {StatusInvestigating, StatusResolved, StatusFalsePositive},
	StatusInvestigating: {StatusConfirmed, StatusResolved, StatusFalsePositive},
	StatusConfirmed:     {StatusResolved},
}

// CanTransition 判断状态迁移是否合法
func (s EventStatus) CanTransition(to EventStatus) bool {
	for _, next := range legalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// EventContext 事件主体上下文
// 入库前统一截断/脱敏，残余信息放 Details
type EventContext struct {
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// SecurityEvent 安全事件
// 创建后除状态流转外不可变
type SecurityEvent struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        EventType    `json:"type"`
	Severity    Severity     `json:"severity"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Context     EventContext `json:"context"`
	Tags        []string     `json:"tags,omitempty"`
	RiskScore   int          `json:"risk_score"` // 0-100
	Category    string       `json:"category"`   // OWASP 合规分类
	Status      EventStatus  `json:"status"`
	// 派生异常事件回指触发事件
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// eventID 由类型+级别+标题+时间戳确定性生成
func eventID(t EventType, sev Severity, title string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%d", t, sev, title, ts.UnixNano())))
	return hex.EncodeToString(sum[:12])
}

// ============================================================================
// 风险评分
// ============================================================================

// riskBase 每种事件类型的基础分
// 授权与系统完整性风险最高
var riskBase = map[EventType]float64{
	EventAuthentication:   20,
	EventAuthorization:    30,
	EventDataAccess:       15,
	EventInputValidation:  18,
	EventSessionMgmt:      15,
	EventSystemIntegrity:  30,
	EventAnomalyDetection: 25,
	EventCompliance:       22,
	EventSecurityConfig:   20,
	EventIncidentResponse: 25,
}

// severityMultiplier 级别乘数
var severityMultiplier = map[Severity]float64{
	SeverityLow:       0.5,
	SeverityMedium:    1.0,
	SeverityHigh:      1.8,
	SeverityCritical:  2.5,
	SeverityEmergency: 3.0,
}

// owaspCategory 事件类型 -> OWASP 合规分类
// 仅用于报表，不参与控制流
var owaspCategory = map[EventType]string{
	EventAuthentication:   "identification_and_authentication_failures",
	EventAuthorization:    "broken_access_control",
	EventDataAccess:       "broken_access_control",
	EventInputValidation:  "injection",
	EventSessionMgmt:      "identification_and_authentication_failures",
	EventSystemIntegrity:  "software_and_data_integrity_failures",
	EventAnomalyDetection: "security_logging_and_monitoring_failures",
	EventCompliance:       "security_misconfiguration",
	EventSecurityConfig:   "security_misconfiguration",
	EventIncidentResponse: "security_logging_and_monitoring_failures",
}

// CategoryOf 返回事件类型对应的合规分类
func CategoryOf(t EventType) string {
	if c, ok := owaspCategory[t]; ok {
		return c
	}
	return "uncategorized"
}

// categoryRemediation 合规分类 -> 整改建议
var categoryRemediation = map[string][]string{
	"broken_access_control": {
		"复核资源级权限校验是否覆盖全部入口",
		"对高危操作启用二次确认",
	},
	"injection": {
		"确认所有查询均经过参数化构造",
		"收紧输入白名单并复核危险模式表",
	},
	"identification_and_authentication_failures": {
		"检查失败锁定与限速策略",
		"复核会话过期与令牌轮换配置",
	},
	"software_and_data_integrity_failures": {
		"校验部署产物签名与依赖完整性",
	},
	"security_logging_and_monitoring_failures": {
		"确认告警通道可用并复盘响应时效",
	},
	"security_misconfiguration": {
		"对照基线复核安全配置项",
	},
}

// truncate 限长截断
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// sanitizeContext 入库前截断上下文字段
func sanitizeContext(c EventContext) EventContext {
	c.UserID = truncate(c.UserID, 64)
	c.SessionID = truncate(c.SessionID, 64)
	c.ClientIP = truncate(c.ClientIP, 45) // IPv6 上限
	c.UserAgent = truncate(c.UserAgent, 256)
	c.Resource = truncate(c.Resource, 256)
	c.Operation = truncate(c.Operation, 64)
	return c
}
