package queryguard

import (
	"regexp"
)

// dangerousPattern 危险值检测模式
// 命中任意一条即整体拒绝，不做部分清洗
type dangerousPattern struct {
	name string
	re   *regexp.Regexp
}

// 固定的危险模式表，按检测优先级排列
var dangerousPatterns = []dangerousPattern{
	{"quote", regexp.MustCompile("['\"`]|%27|%22")},
	{"statement_terminator", regexp.MustCompile(`;`)},
	{"comment_marker", regexp.MustCompile(`--|/\*|\*/|#`)},
	{"union_exec", regexp.MustCompile(`(?i)\b(union|exec|execute|xp_cmdshell)\b`)},
	{"embedded_dml", regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|create|alter|truncate|grant|revoke|merge)\b`)},
	{"script_markup", regexp.MustCompile(`(?i)<\s*script|javascript\s*:|vbscript\s*:|on\w+\s*=`)},
	{"path_traversal", regexp.MustCompile(`\.\./|\.\.\\`)},
}

// identifierRe 合法标识符语法：小写字母或下划线开头，后接小写字母、数字、下划线
var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// scanString 扫描字符串值，返回命中的模式名，未命中返回空串
func scanString(s string) string {
	for _, p := range dangerousPatterns {
		if p.re.MatchString(s) {
			return p.name
		}
	}
	return ""
}

// scanSerialized 扫描复合值序列化后的 JSON
// JSON 语法本身包含引号，跳过 quote 模式避免误杀
func scanSerialized(s string) string {
	for _, p := range dangerousPatterns {
		if p.name == "quote" {
			continue
		}
		if p.re.MatchString(s) {
			return p.name
		}
	}
	return ""
}

// validIdentifier 校验标识符语法
func validIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// DefaultWhitelist 内置表/列白名单
// 覆盖上层业务直接操作的全部表，配置文件可整体替换
func DefaultWhitelist() map[string][]string {
	return map[string][]string{
		"users": {
			"id", "email", "username", "password_hash", "status",
			"created_at", "updated_at", "last_login_at",
		},
		"user_credits": {
			"id", "user_id", "balance", "frozen", "updated_at",
		},
		"credit_transactions": {
			"id", "user_id", "amount", "reason", "reference_id", "created_at",
		},
		"generations": {
			"id", "user_id", "template_id", "prompt", "status", "result_url",
			"error_message", "created_at", "completed_at",
		},
		"style_templates": {
			"id", "name", "category", "preview_url", "config", "is_active",
			"created_at", "updated_at",
		},
		"api_keys": {
			"id", "user_id", "key_hash", "label", "expires_at", "created_at",
		},
		"audit_logs": {
			"id", "user_id", "action", "resource", "details", "created_at",
		},
	}
}
