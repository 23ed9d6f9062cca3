package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRequests = 2
	cfg.Window = time.Minute
	return cfg
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	r := NewRedisLimiter(NewGoRedisAdapter(client), testConfig(), nil)
	now := time.Date(2024, 1, 1, 12, 0, 15, 0, time.UTC)
	r.now = func() time.Time { return now }

	d, err := r.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	key := r.key("alice", r.windowStart())
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 61*time.Second, mr.TTL(key))

	d, _ = r.Allow(ctx, "alice")
	assert.True(t, d.Allowed)
	d, _ = r.Allow(ctx, "alice")
	assert.False(t, d.Allowed)
	assert.Equal(t, 45*time.Second, d.RetryAfter)

	now = now.Add(time.Minute)
	d, _ = r.Allow(ctx, "alice")
	assert.True(t, d.Allowed, "new window")
}

func TestRedisLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	_, client := newMiniredis(t)
	cfg := testConfig()
	cfg.MaxRequests = 1
	r := NewRedisLimiter(NewGoRedisAdapter(client), cfg, nil)

	d, _ := r.Allow(ctx, "k")
	require.True(t, d.Allowed)
	d, _ = r.Allow(ctx, "k")
	require.False(t, d.Allowed)

	require.NoError(t, r.Reset(ctx, "k"))
	d, _ = r.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_FallbackAndRecovery(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	cfg := testConfig()
	cfg.RecheckInterval = 10 * time.Second
	r := NewRedisLimiter(NewGoRedisAdapter(client), cfg, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.fallback.now = r.now

	mr.SetError("LOADING")
	d, err := r.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "fallback allows")
	assert.False(t, r.IsRedisAvailable())

	mr.SetError("")
	d, err = r.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, r.IsRedisAvailable(), "redis skipped until recheck interval passes")
	assert.False(t, mr.Exists(r.key("alice", r.windowStart())))

	now = now.Add(11 * time.Second)
	_, err = r.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, r.IsRedisAvailable())
}

func TestRedisLimiter_NoFallback(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	cfg := testConfig()
	cfg.EnableFallback = false
	r := NewRedisLimiter(NewGoRedisAdapter(client), cfg, nil)

	mr.Close()
	_, err := r.Allow(ctx, "alice")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
	assert.Error(t, r.CheckHealth(ctx))
}

func TestRedisLimiter_CheckHealth(t *testing.T) {
	_, client := newMiniredis(t)
	r := NewRedisLimiter(NewGoRedisAdapter(client), testConfig(), nil)
	r.markUnavailable(errors.New("earlier failure"))

	require.NoError(t, r.CheckHealth(context.Background()))
	assert.True(t, r.IsRedisAvailable())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	l, closeFn, err := New(ctx, testConfig(), RedisOptions{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	l, closeFn, err = New(ctx, testConfig(), RedisOptions{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisLimiter{}, l)
	assert.NoError(t, closeFn())

	cfg := testConfig()
	cfg.EnableFallback = false
	_, _, err = New(ctx, cfg, RedisOptions{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)

	_, _, err = New(ctx, Config{}, RedisOptions{}, nil)
	assert.Error(t, err)
}
