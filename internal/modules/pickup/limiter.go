// README: Failed-attempt counters that lock out PIN guessing per (order, store).
package pickup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dropmart/internal/types"
)

// AttemptLimiter counts failed verifications inside a sliding window that
// starts at the first failure.
type AttemptLimiter interface {
	Blocked(ctx context.Context, orderID, storeID types.ID) (bool, error)
	Fail(ctx context.Context, orderID, storeID types.ID) error
	Reset(ctx context.Context, orderID, storeID types.ID) error
}

const attemptKeyPrefix = "dropmart:pickup:attempts:%s:%s"

func attemptKey(orderID, storeID types.ID) string {
	return fmt.Sprintf(attemptKeyPrefix, string(orderID), string(storeID))
}

type RedisLimiter struct {
	redis  *redis.Client
	max    int
	window time.Duration
}

func NewRedisLimiter(redis *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{redis: redis, max: max, window: window}
}

func (l *RedisLimiter) Blocked(ctx context.Context, orderID, storeID types.ID) (bool, error) {
	n, err := l.redis.Get(ctx, attemptKey(orderID, storeID)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= l.max, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, orderID, storeID types.ID) error {
	key := attemptKey(orderID, storeID)
	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return l.redis.Expire(ctx, key, l.window).Err()
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, orderID, storeID types.ID) error {
	return l.redis.Del(ctx, attemptKey(orderID, storeID)).Err()
}

type memoryAttempts struct {
	count   int
	expires time.Time
}

// MemoryLimiter serves DROPMART_STORE=memory deployments without Redis.
type MemoryLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	counts map[string]memoryAttempts
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, window: window, now: time.Now, counts: make(map[string]memoryAttempts)}
}

func (l *MemoryLimiter) current(key string) memoryAttempts {
	a, ok := l.counts[key]
	if ok && !l.now().Before(a.expires) {
		delete(l.counts, key)
		return memoryAttempts{}
	}
	return a
}

func (l *MemoryLimiter) Blocked(_ context.Context, orderID, storeID types.ID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(attemptKey(orderID, storeID)).count >= l.max, nil
}

func (l *MemoryLimiter) Fail(_ context.Context, orderID, storeID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := attemptKey(orderID, storeID)
	a := l.current(key)
	if a.count == 0 {
		a.expires = l.now().Add(l.window)
	}
	a.count++
	l.counts[key] = a
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, orderID, storeID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, attemptKey(orderID, storeID))
	return nil
}
