package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter adapts a go-redis client to RedisClient.
type GoRedisAdapter struct {
	Client redis.UniversalClient
}

var _ RedisClient = (*GoRedisAdapter)(nil)

// NewGoRedisAdapter wraps client.
func NewGoRedisAdapter(client redis.UniversalClient) *GoRedisAdapter {
	return &GoRedisAdapter{Client: client}
}

// Incr atomically increments a key and returns the new value.
func (a *GoRedisAdapter) Incr(ctx context.Context, key string) (int64, error) {
	return a.Client.Incr(ctx, key).Result()
}

// Expire sets a TTL on a key.
func (a *GoRedisAdapter) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return a.Client.Expire(ctx, key, expiration).Err()
}

// Del deletes a key.
func (a *GoRedisAdapter) Del(ctx context.Context, key string) error {
	return a.Client.Del(ctx, key).Err()
}

// Ping checks the connection.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.Client.Ping(ctx).Err()
}
