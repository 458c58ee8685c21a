package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "meter:ratelimit:user:u1", RateLimitKey("user:u1"))
}

func TestWindowSeconds(t *testing.T) {
	assert.Equal(t, 60, windowSeconds(time.Minute))
	assert.Equal(t, 1, windowSeconds(500*time.Millisecond))
	assert.Equal(t, 1, windowSeconds(0))
}

func TestNewCache_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Port 1 is reserved and never has a Redis listening.
	_, err := NewCache(ctx, Options{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestCache_ErrorsAreWrapped(t *testing.T) {
	c := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1}), nil)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cache: get "k"`)

	allowed, err := c.RateLimitCheck(ctx, "id", 10, time.Minute)
	require.Error(t, err)
	assert.False(t, allowed)
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewCache(context.Background(), Options{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_GetSet(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	val, err := c.Get(ctx, "analytics:missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.Set(ctx, "analytics:q", `{"total_events":3}`, time.Minute))
	val, err = c.Get(ctx, "analytics:q")
	require.NoError(t, err)
	assert.Equal(t, `{"total_events":3}`, val)

	assert.True(t, mr.Exists("meter:analytics:q"))
	assert.Equal(t, time.Minute, mr.TTL("meter:analytics:q"))

	mr.FastForward(time.Minute)
	val, err = c.Get(ctx, "analytics:q")
	require.NoError(t, err)
	assert.Empty(t, val)
}

func TestCache_RateLimitWindow(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := c.RateLimitCheck(ctx, "user:u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, err := c.RateLimitCheck(ctx, "user:u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	other, err := c.RateLimitCheck(ctx, "user:u2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other, "counters are per id")

	// Later requests do not extend the window.
	assert.Equal(t, time.Minute, mr.TTL(RateLimitKey("user:u1")))

	mr.FastForward(time.Minute)
	allowed, err = c.RateLimitCheck(ctx, "user:u1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
