package containers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	platformredis "bima/internal/platform/redis"
)

// RedisContainer wraps a running redis with a connected client.
type RedisContainer struct {
	container *tcredis.RedisContainer
	Client    *platformredis.Client
	URL       string
}

var (
	redisOnce sync.Once
	redisInst *RedisContainer
	redisErr  error
)

// GetRedis returns the shared redis container, starting it on first use.
func GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	redisOnce.Do(func() {
		redisInst, redisErr = startRedis()
	})
	if redisErr != nil {
		t.Fatalf("redis container: %v", redisErr)
	}
	return redisInst
}

func startRedis() (*RedisContainer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("connection string: %w", err)
	}
	client, err := platformredis.New(url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &RedisContainer{container: container, Client: client, URL: url}, nil
}
