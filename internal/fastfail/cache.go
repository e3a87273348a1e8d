package fastfail

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DecisionCache 判定缓存
// 相同 (错误前缀, 用户, 端点) 的重复失败在 TTL 内直接复用判定
type DecisionCache interface {
	Get(ctx context.Context, key string) (Decision, bool)
	Set(ctx context.Context, key string, d Decision, ttl time.Duration)
}

// ============================================================================
// 进程内缓存
// ============================================================================

type memoryCacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// MemoryCache 进程内判定缓存，读取时惰性淘汰
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return Decision{}, false
	}
	return entry.decision, true
}

func (c *MemoryCache) Set(_ context.Context, key string, d Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// 写入时顺带清理过期项，避免无上限增长
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = memoryCacheEntry{decision: d, expiresAt: now.Add(ttl)}
}

// ============================================================================
// Redis 共享缓存
// ============================================================================

// RedisCache 跨实例共享的判定缓存
// 多副本部署时同一失败组合只需评估一次
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache 创建 Redis 判定缓存
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "fastfail:decision:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Decision, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return Decision{}, false
	}

	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

func (c *RedisCache) Set(ctx context.Context, key string, d Decision, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	// 缓存写失败不影响判定路径
	c.client.Set(ctx, c.prefix+key, data, ttl)
}
