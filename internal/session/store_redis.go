package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "bima/internal/platform/redis"
	"bima/pkg/platform/sentinel"
)

// RedisStore keeps sessions in Redis with a TTL matching their expiry.
type RedisStore struct {
	client *platformredis.Client
}

// NewRedisStore wraps a redis client.
func NewRedisStore(client *platformredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(token string) string { return "session:" + token }

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, key(sess.Token), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, token string) (*Session, error) {
	raw, err := s.client.Get(ctx, key(token)).Bytes()
	if err == goredis.Nil {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, key(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
