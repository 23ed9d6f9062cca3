package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryLimiter is a per-key token bucket refilled at MaxRequests per Window.
type MemoryLimiter struct {
	capacity float64
	rate     float64 // tokens per second

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates a MemoryLimiter allowing maxRequests per window.
func NewMemoryLimiter(maxRequests int, window time.Duration) *MemoryLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		capacity: float64(maxRequests),
		rate:     float64(maxRequests) / window.Seconds(),
		buckets:  make(map[string]*bucket),
		now:      time.Now,
	}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	return m.allow(key), nil
}

func (m *MemoryLimiter) allow(key string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: m.capacity, lastRefill: now}
		m.buckets[key] = b
	}

	b.tokens = math.Min(m.capacity, b.tokens+now.Sub(b.lastRefill).Seconds()*m.rate)
	b.lastRefill = now

	d := Decision{Limit: int(m.capacity)}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d
	}
	d.RetryAfter = time.Duration((1 - b.tokens) / m.rate * float64(time.Second))
	return d
}

// Reset forgets the bucket for key.
func (m *MemoryLimiter) Reset(key string) {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
}
