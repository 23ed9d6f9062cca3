package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RedisClient is the subset of Redis operations the limiter needs.
type RedisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RedisLimiter counts requests in fixed windows shared by every server
// instance. While Redis is failing it uses the in-memory fallback, or rejects
// with ErrRedisUnavailable when fallback is disabled.
type RedisLimiter struct {
	client   RedisClient
	config   Config
	fallback *MemoryLimiter
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	unavailable time.Time // zero while Redis is healthy
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a distributed limiter.
func NewRedisLimiter(client RedisClient, config Config, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RedisLimiter{client: client, config: config, logger: logger, now: time.Now}
	if config.EnableFallback {
		r.fallback = NewMemoryLimiter(config.MaxRequests, config.Window)
	}
	return r
}

func (r *RedisLimiter) windowStart() time.Time {
	return r.now().Truncate(r.config.Window)
}

func (r *RedisLimiter) key(id string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", r.config.KeyPrefix, id, windowStart.Unix())
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, id string) (Decision, error) {
	if !r.redisUsable() {
		return r.handleFallback(ctx, id)
	}

	start := r.windowStart()
	key := r.key(id, start)
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		r.markUnavailable(err)
		return r.handleFallback(ctx, id)
	}
	r.markAvailable()

	if count == 1 {
		// Orphaned counters expire on their own if this fails.
		_ = r.client.Expire(ctx, key, r.config.Window+time.Second)
	}

	d := Decision{Limit: r.config.MaxRequests, Allowed: count <= int64(r.config.MaxRequests)}
	if d.Allowed {
		d.Remaining = r.config.MaxRequests - int(count)
	} else {
		d.RetryAfter = start.Add(r.config.Window).Sub(r.now())
	}
	return d, nil
}

// Reset clears the current window for id.
func (r *RedisLimiter) Reset(ctx context.Context, id string) error {
	if r.fallback != nil {
		r.fallback.Reset(id)
	}
	if err := r.client.Del(ctx, r.key(id, r.windowStart())); err != nil {
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}

// CheckHealth pings Redis and updates the availability state.
func (r *RedisLimiter) CheckHealth(ctx context.Context) error {
	if err := r.client.Ping(ctx); err != nil {
		r.markUnavailable(err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	r.markAvailable()
	return nil
}

// IsRedisAvailable reports whether the last Redis operation succeeded.
func (r *RedisLimiter) IsRedisAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unavailable.IsZero()
}

func (r *RedisLimiter) handleFallback(ctx context.Context, id string) (Decision, error) {
	if r.fallback == nil {
		return Decision{}, ErrRedisUnavailable
	}
	return r.fallback.Allow(ctx, id)
}

// redisUsable is false for RecheckInterval after a failure.
func (r *RedisLimiter) redisUsable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unavailable.IsZero() || r.now().Sub(r.unavailable) >= r.config.RecheckInterval
}

func (r *RedisLimiter) markUnavailable(err error) {
	r.mu.Lock()
	wasHealthy := r.unavailable.IsZero()
	r.unavailable = r.now()
	r.mu.Unlock()
	if wasHealthy {
		r.logger.Warn("redis rate limiting unavailable", zap.Error(err), zap.Bool("fallback", r.fallback != nil))
	}
}

func (r *RedisLimiter) markAvailable() {
	r.mu.Lock()
	recovered := !r.unavailable.IsZero()
	r.unavailable = time.Time{}
	r.mu.Unlock()
	if recovered {
		r.logger.Info("redis rate limiting recovered")
	}
}
