//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"warden/internal/platform/config"
	wardenredis "warden/internal/platform/redis"
)

const redisImage = "redis:7-alpine"

// RedisContainer backs the replay set integration tests.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *goredis.Client
}

// NewRedisContainer starts Redis and connects through the same client
// constructor the server uses.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("redis connection string: %v", err)
	}

	client, err := wardenredis.New(ctx, config.RedisConfig{
		URL:          url,
		PoolSize:     4,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("connect redis: %v", err)
	}
	if err := client.Health(ctx); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("redis health: %v", err)
	}

	// Shared through Manager; Ryuk removes the container.
	return &RedisContainer{Container: container, URL: url, Client: client.Client}
}

// FlushAll clears every key so each test starts with an empty nonce set.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
