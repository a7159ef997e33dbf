package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

const rateLimitKey = "ratelimit:%s" // String: 窗口内计数

// Limiter 限制单位时间内的尝试次数
type Limiter interface {
	// Allow 记录一次尝试并返回是否放行
	Allow(ctx context.Context, key string) (bool, error)
	// SetLimit 调整限制，配置热更新时调用
	SetLimit(attempts int, window time.Duration)
}

type limit struct {
	attempts int
	window   time.Duration
}

// RedisLimiter 固定窗口计数，多实例共享
type RedisLimiter struct {
	client *redis.Client

	mu    sync.RWMutex
	limit limit
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(client *redis.Client, attempts int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit{attempts: attempts, window: window}}
}

func (l *RedisLimiter) SetLimit(attempts int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit{attempts: attempts, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return false, fmt.Errorf("Redis client not initialized")
	}
	l.mu.RLock()
	lim := l.limit
	l.mu.RUnlock()

	k := fmt.Sprintf(rateLimitKey, key)
	// SET NX EX 与 INCR 同一事务，窗口从第一次尝试开始计时且键必带 TTL
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, lim.window)
		incr = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(lim.attempts), nil
}

// MemoryLimiter 进程内令牌桶，Redis 未启用时使用
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     limit
	limiters  map[string]*memoryEntry
	lastSweep time.Time
	now       func() time.Time
}

type memoryEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter 创建进程内限流器
func NewMemoryLimiter(attempts int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit{attempts: attempts, window: window},
		limiters: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) SetLimit(attempts int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit{attempts: attempts, window: window}
	for _, e := range l.limiters {
		e.lim.SetLimit(l.every())
		e.lim.SetBurst(attempts)
	}
}

// every 需要持有锁
func (l *MemoryLimiter) every() rate.Limit {
	if l.limit.attempts <= 0 {
		return 0
	}
	return rate.Every(l.limit.window / time.Duration(l.limit.attempts))
}

// sweep 清理空闲超过一个窗口的桶，需要持有锁。
// 空闲一个窗口的桶已经填满，删除后重建等价。
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.limit.window {
		return
	}
	l.lastSweep = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) >= l.limit.window {
			delete(l.limiters, key)
		}
	}
}

// Len 返回当前跟踪的键数量
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &memoryEntry{lim: rate.NewLimiter(l.every(), l.limit.attempts)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1), nil
}
