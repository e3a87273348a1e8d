package fastfail

import (
	"regexp"
	"time"

	"apiguard/internal/config"
)

// FailureType 失败类型
type FailureType string

const (
	// FailureAuthExpired 凭证过期或未认证
	FailureAuthExpired FailureType = "auth_expired"
	// FailureRateLimited 触发限流
	FailureRateLimited FailureType = "rate_limited"
	// FailureResourceUnavailable 资源不存在或不可用
	FailureResourceUnavailable FailureType = "resource_unavailable"
	// FailureInvalidInput 入参非法
	FailureInvalidInput FailureType = "invalid_input"
	// FailureNetworkTimeout 网络超时
	FailureNetworkTimeout FailureType = "network_timeout"
	// FailureServiceUnavailable 依赖服务不可用
	FailureServiceUnavailable FailureType = "service_unavailable"
	// FailureQuotaExceeded 配额耗尽
	FailureQuotaExceeded FailureType = "quota_exceeded"
)

// ErrorPattern 错误分类模式
// 按注册顺序匹配，首个命中生效
type ErrorPattern struct {
	re            *regexp.Regexp
	Type          FailureType
	Retryable     bool          // 该类失败是否值得重试
	FastFailAfter time.Duration // 观测延迟达到该值即快速失败，0 表示立即
	CacheTTL      time.Duration // 该类判定的缓存时长
}

// Match 对错误文本做大小写不敏感匹配
func (p *ErrorPattern) Match(message string) bool {
	return p.re.MatchString(message)
}

// mustPattern 编译大小写不敏感正则
func mustPattern(expr string, t FailureType, retryable bool, after, ttl time.Duration) *ErrorPattern {
	return &ErrorPattern{
		re:            regexp.MustCompile("(?i)" + expr),
		Type:          t,
		Retryable:     retryable,
		FastFailAfter: after,
		CacheTTL:      ttl,
	}
}

// DefaultErrorPatterns 内置错误模式表
// 顺序即优先级：具体模式在前，宽泛模式在后
func DefaultErrorPatterns() []*ErrorPattern {
	return []*ErrorPattern{
		mustPattern(`(token|credential|session).{0,20}(expired|invalid)|unauthorized|401`,
			FailureAuthExpired, false, 0, 5*time.Minute),
		mustPattern(`rate.?limit|too many requests|429`,
			FailureRateLimited, true, 0, time.Minute),
		mustPattern(`quota|insufficient (credit|balance)|payment required|402`,
			FailureQuotaExceeded, false, 0, 10*time.Minute),
		mustPattern(`(resource|route|upstream).{0,20}not found|no such|404`,
			FailureResourceUnavailable, false, 0, 2*time.Minute),
		mustPattern(`invalid (input|argument|parameter)|malformed|bad request|400`,
			FailureInvalidInput, false, 0, 5*time.Minute),
		mustPattern(`timeout|timed out|deadline exceeded|context canceled`,
			FailureNetworkTimeout, true, time.Second, 30*time.Second),
		mustPattern(`service unavailable|connection refused|bad gateway|50[234]`,
			FailureServiceUnavailable, true, 500*time.Millisecond, 30*time.Second),
	}
}

// PatternsFromSpecs 从配置文件定义构建错误模式表
// 非法正则跳过，保证启动不被单条配置拖垮
func PatternsFromSpecs(specs []config.ErrorPatternSpec) []*ErrorPattern {
	out := make([]*ErrorPattern, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile("(?i)" + s.Pattern)
		if err != nil {
			continue
		}
		out = append(out, &ErrorPattern{
			re:            re,
			Type:          FailureType(s.FailureType),
			Retryable:     s.ShouldRetry,
			FastFailAfter: time.Duration(s.FastFailAfterMS) * time.Millisecond,
			CacheTTL:      time.Duration(s.CacheTTLSeconds) * time.Second,
		})
	}
	return out
}
