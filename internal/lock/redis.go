package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still owned by the caller's
// token, so an expired holder cannot release its successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes holders across processes with SET NX PX. The ttl
// bounds how long a crashed holder can block a pool.
type RedisLocker struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	retry time.Duration
}

// NewRedisLocker creates a distributed locker. Acquire polls every retry
// interval until the key is free.
func NewRedisLocker(rdb redis.Cmdable, ttl, retry time.Duration) *RedisLocker {
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: retry}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = "amm:lock:" + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
				slog.Warn("lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}
