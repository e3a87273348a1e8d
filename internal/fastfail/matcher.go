package fastfail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"apiguard/internal/logger"
	"apiguard/internal/metrics"

	"go.uber.org/zap"
)

// CallContext 判定上下文，参与缓存键
type CallContext struct {
	UserID   string `json:"user_id,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Decision 快速失败判定结果
// 建议性信号而非错误：是否中止由调用方决定
type Decision struct {
	ShouldFailFast bool        `json:"should_fail_fast"`
	FailureType    FailureType `json:"failure_type,omitempty"`
	Reason         string      `json:"reason"`
	Retryable      bool        `json:"retryable"`
	CircuitOpen    bool        `json:"circuit_open"`
}

// Statistics 判定统计快照
type Statistics struct {
	Evaluations   int64                   `json:"evaluations"`
	FailFasts     int64                   `json:"fail_fasts"`
	ByType        map[FailureType]int64   `json:"by_type"`
	BreakerStates map[FailureType]string  `json:"breaker_states"`
	CacheHits     int64                   `json:"cache_hits"`
	CacheMisses   int64                   `json:"cache_misses"`
}

// Matcher 快速失败判定器
// 纯 CPU 操作（进程内缓存时），不做任何 I/O 阻塞
type Matcher struct {
	patterns        []*ErrorPattern
	criticalLatency time.Duration
	defaultCacheTTL time.Duration

	breakers map[FailureType]*breaker
	cache    DecisionCache
	log      *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	evaluations int64
	failFasts   int64
	byType      map[FailureType]int64
	cacheHits   int64
	cacheMisses int64
}

// MatcherOption 判定器可选配置
type MatcherOption func(*Matcher)

// WithCache 替换判定缓存（默认进程内缓存）
func WithCache(c DecisionCache) MatcherOption {
	return func(m *Matcher) { m.cache = c }
}

// WithPatterns 替换错误模式表
func WithPatterns(patterns []*ErrorPattern) MatcherOption {
	return func(m *Matcher) {
		if len(patterns) > 0 {
			m.patterns = patterns
		}
	}
}

// withClock 测试用时钟注入
func withClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// failureTypes 熔断器覆盖的全部失败类型
var failureTypes = []FailureType{
	FailureAuthExpired, FailureRateLimited, FailureResourceUnavailable,
	FailureInvalidInput, FailureNetworkTimeout, FailureServiceUnavailable,
	FailureQuotaExceeded,
}

// NewMatcher 创建判定器
// threshold 次失败打开熔断，cooldown 后进入 half_open
func NewMatcher(threshold int, cooldown, criticalLatency, cacheTTL time.Duration, opts ...MatcherOption) *Matcher {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if criticalLatency <= 0 {
		criticalLatency = 10 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	m := &Matcher{
		patterns:        DefaultErrorPatterns(),
		criticalLatency: criticalLatency,
		defaultCacheTTL: cacheTTL,
		breakers:        make(map[FailureType]*breaker, len(failureTypes)),
		cache:           NewMemoryCache(),
		log:             logger.Named("fastfail"),
		now:             time.Now,
		byType:          make(map[FailureType]int64),
	}
	for _, t := range failureTypes {
		m.breakers[t] = newBreaker(threshold, cooldown)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	// 自定义模式表可能引入新类型，补齐熔断器后 map 运行期只读
	for _, p := range m.patterns {
		if _, ok := m.breakers[p.Type]; !ok {
			m.breakers[p.Type] = newBreaker(threshold, cooldown)
		}
	}
	return m
}

// Evaluate 判定一次调用失败是否应当快速失败
// 判定顺序：缓存 -> 无条件延迟规则 -> 模式分类 + 熔断器
func (m *Matcher) Evaluate(ctx context.Context, errorMessage string, responseTime time.Duration, call *CallContext) Decision {
	key := decisionKey(errorMessage, call)
	if d, ok := m.cache.Get(ctx, key); ok {
		m.record(d, true)
		return d
	}

	d, ttl := m.classify(errorMessage, responseTime)
	m.cache.Set(ctx, key, d, ttl)
	m.record(d, false)

	if d.ShouldFailFast {
		m.log.Warn("快速失败判定",
			zap.String("failure_type", string(d.FailureType)),
			zap.String("reason", d.Reason),
			zap.Bool("circuit_open", d.CircuitOpen),
			zap.Duration("response_time", responseTime),
		)
	}
	return d
}

// classify 执行判定规则，返回判定与缓存 TTL
func (m *Matcher) classify(errorMessage string, responseTime time.Duration) (Decision, time.Duration) {
	now := m.now()

	// 无条件延迟规则：超过严重阈值一律按网络超时快速失败
	if responseTime >= m.criticalLatency {
		state := m.breakers[FailureNetworkTimeout].recordFailure(now)
		m.publishState(FailureNetworkTimeout, state)
		return Decision{
			ShouldFailFast: true,
			FailureType:    FailureNetworkTimeout,
			Reason:         fmt.Sprintf("响应耗时 %s 超过严重阈值 %s", responseTime, m.criticalLatency),
			Retryable:      true,
			CircuitOpen:    state == StateOpen,
		}, m.defaultCacheTTL
	}

	for _, p := range m.patterns {
		if !p.Match(errorMessage) {
			continue
		}

		ttl := p.CacheTTL
		if ttl <= 0 {
			ttl = m.defaultCacheTTL
		}
		br := m.breakers[p.Type]

		// 熔断已打开：无论延迟如何直接快速失败
		if state := br.observe(now); state == StateOpen {
			return Decision{
				ShouldFailFast: true,
				FailureType:    p.Type,
				Reason:         fmt.Sprintf("失败类型 %s 熔断中", p.Type),
				Retryable:      false,
				CircuitOpen:    true,
			}, ttl
		}

		if responseTime >= p.FastFailAfter {
			state := br.recordFailure(now)
			m.publishState(p.Type, state)
			return Decision{
				ShouldFailFast: true,
				FailureType:    p.Type,
				Reason:         fmt.Sprintf("错误命中模式 %s", p.Type),
				Retryable:      p.Retryable,
				CircuitOpen:    state == StateOpen,
			}, ttl
		}

		// 命中分类但延迟未达阈值：仅分类不中止
		return Decision{
			ShouldFailFast: false,
			FailureType:    p.Type,
			Reason:         "延迟未达该模式阈值",
			Retryable:      p.Retryable,
		}, ttl
	}

	return Decision{
		ShouldFailFast: false,
		Reason:         "未命中任何错误模式",
		Retryable:      true,
	}, m.defaultCacheTTL
}

// RecordSuccess 由包装代码在调用成功后上报，关闭 half_open 熔断
func (m *Matcher) RecordSuccess(t FailureType) {
	br, ok := m.breakers[t]
	if !ok {
		return
	}
	state := br.recordSuccess()
	m.publishState(t, state)
}

// BreakerState 读取指定失败类型的熔断器状态
func (m *Matcher) BreakerState(t FailureType) BreakerState {
	br, ok := m.breakers[t]
	if !ok {
		return StateClosed
	}
	return br.observe(m.now())
}

// GetStatistics 返回判定统计快照
func (m *Matcher) GetStatistics() Statistics {
	m.mu.Lock()
	stats := Statistics{
		Evaluations:   m.evaluations,
		FailFasts:     m.failFasts,
		ByType:        make(map[FailureType]int64, len(m.byType)),
		BreakerStates: make(map[FailureType]string, len(m.breakers)),
		CacheHits:     m.cacheHits,
		CacheMisses:   m.cacheMisses,
	}
	for t, n := range m.byType {
		stats.ByType[t] = n
	}
	m.mu.Unlock()

	now := m.now()
	for t, br := range m.breakers {
		stats.BreakerStates[t] = string(br.observe(now))
	}
	return stats
}

// record 更新统计与指标
func (m *Matcher) record(d Decision, cacheHit bool) {
	m.mu.Lock()
	m.evaluations++
	if d.ShouldFailFast {
		m.failFasts++
	}
	if d.FailureType != "" {
		m.byType[d.FailureType]++
	}
	if cacheHit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
	m.mu.Unlock()

	outcome := "pass"
	if d.ShouldFailFast {
		outcome = "fail_fast"
	}
	metrics.FastFailDecisionsTotal.WithLabelValues(string(d.FailureType), outcome).Inc()
	if cacheHit {
		metrics.FastFailCacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.FastFailCacheHitsTotal.WithLabelValues("miss").Inc()
	}
}

// publishState 上报熔断器状态指标
func (m *Matcher) publishState(t FailureType, state BreakerState) {
	var v float64
	switch state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(string(t)).Set(v)
}

// decisionKey 缓存键：错误消息前缀 + 用户 + 端点
func decisionKey(errorMessage string, call *CallContext) string {
	prefix := strings.ToLower(errorMessage)
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}

	var user, endpoint string
	if call != nil {
		user = call.UserID
		endpoint = call.Endpoint
	}

	sum := sha256.Sum256([]byte(prefix + "|" + user + "|" + endpoint))
	return hex.EncodeToString(sum[:12])
}
