// Package ratelimit limits generation requests per user, in Redis when it is
// configured and in memory otherwise.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRedisUnavailable is returned when Redis is unavailable and fallback is disabled.
var ErrRedisUnavailable = errors.New("redis unavailable for rate limiting")

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config configures the limiters.
type Config struct {
	// MaxRequests is the number of requests allowed per Window.
	MaxRequests int
	// Window is the length of a counting window.
	Window time.Duration
	// KeyPrefix is prepended to every Redis key.
	KeyPrefix string
	// EnableFallback switches to the in-memory limiter while Redis is down.
	EnableFallback bool
	// RecheckInterval is how long Redis is skipped after a failure.
	RecheckInterval time.Duration
}

// DefaultConfig returns 30 requests per minute with fallback enabled.
func DefaultConfig() Config {
	return Config{
		MaxRequests:     30,
		Window:          time.Minute,
		KeyPrefix:       "brian:ratelimit:",
		EnableFallback:  true,
		RecheckInterval: 10 * time.Second,
	}
}

// Unlimited allows every request.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}
