package reconciler

import (
	"context"
	"time"

	platformredis "bima/internal/platform/redis"
)

// RedisLocker implements Locker with SET NX EX. Losing the lock mid-sweep is
// harmless because every sweep step is idempotent.
type RedisLocker struct {
	client *platformredis.Client
}

// NewRedisLocker wraps a redis client.
func NewRedisLocker(client *platformredis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, "1", ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}
