package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_AllowsUpToCapacity(t *testing.T) {
	m := NewMemoryLimiter(3, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d, err := m.Allow(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, _ := m.Allow(context.Background(), "alice")
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(20*time.Second), float64(d.RetryAfter), float64(time.Millisecond))

	d, _ = m.Allow(context.Background(), "bob")
	assert.True(t, d.Allowed, "keys are independent")
}

func TestMemoryLimiter_Refills(t *testing.T) {
	m := NewMemoryLimiter(2, 10*time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, _ := m.Allow(context.Background(), "k")
		require.True(t, d.Allowed)
	}
	d, _ := m.Allow(context.Background(), "k")
	require.False(t, d.Allowed)

	now = now.Add(6 * time.Second)
	d, _ = m.Allow(context.Background(), "k")
	assert.True(t, d.Allowed)

	now = now.Add(time.Hour)
	d, _ = m.Allow(context.Background(), "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining, "refill is capped at capacity")
}

func TestMemoryLimiter_Reset(t *testing.T) {
	m := NewMemoryLimiter(1, time.Hour)
	d, _ := m.Allow(context.Background(), "k")
	require.True(t, d.Allowed)
	d, _ = m.Allow(context.Background(), "k")
	require.False(t, d.Allowed)

	m.Reset("k")
	d, _ = m.Allow(context.Background(), "k")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	m := NewMemoryLimiter(50, time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := m.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestNewMemoryLimiter_Defaults(t *testing.T) {
	m := NewMemoryLimiter(0, 0)
	assert.Equal(t, 1.0, m.capacity)
	assert.InDelta(t, 1.0/60, m.rate, 1e-9)
}

func TestUnlimited(t *testing.T) {
	d, err := Unlimited{}.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
