package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions locates the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// New returns a RedisLimiter when opts.Addr is set and a MemoryLimiter
// otherwise. The returned close function releases the Redis connection.
// An unreachable Redis at startup is logged, not fatal: requests use the
// fallback until it comes back.
func New(ctx context.Context, cfg Config, opts RedisOptions, logger *zap.Logger) (Limiter, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return nil, nil, fmt.Errorf("invalid rate limit %d per %s", cfg.MaxRequests, cfg.Window)
	}
	if opts.Addr == "" {
		logger.Info("using in-memory rate limiting", zap.Int("max", cfg.MaxRequests), zap.Duration("window", cfg.Window))
		return NewMemoryLimiter(cfg.MaxRequests, cfg.Window), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	limiter := NewRedisLimiter(NewGoRedisAdapter(client), cfg, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := limiter.CheckHealth(pingCtx); err != nil && !cfg.EnableFallback {
		_ = client.Close()
		return nil, nil, err
	}

	logger.Info("using redis rate limiting", zap.String("addr", opts.Addr), zap.Int("max", cfg.MaxRequests), zap.Duration("window", cfg.Window))
	return limiter, client.Close, nil
}
