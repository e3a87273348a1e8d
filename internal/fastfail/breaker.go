package fastfail

import (
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	// StateClosed 正常放行
	StateClosed BreakerState = "closed"
	// StateOpen 熔断中，所有请求快速失败
	StateOpen BreakerState = "open"
	// StateHalfOpen 冷却结束，等待一次成功确认
	StateHalfOpen BreakerState = "half_open"
)

// breaker 单个失败类型的熔断器
// 状态迁移在持锁内完成，对同一类型的并发观测有一致终态
type breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	threshold int
	cooldown  time.Duration
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// observe 返回当前状态，open 且冷却期满时迁移到 half_open
func (b *breaker) observe(now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && now.Sub(b.lastFailure) >= b.cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}

// recordFailure 记录一次失败
// closed 累计到阈值后打开；half_open 下失败立即回到 open
func (b *breaker) recordFailure(now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
	}
	return b.state
}

// recordSuccess 记录一次成功，half_open 下关闭并清零计数
func (b *breaker) recordSuccess() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen || b.state == StateClosed {
		b.state = StateClosed
		b.failures = 0
	}
	return b.state
}

// snapshot 读取当前状态与计数
func (b *breaker) snapshot() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
