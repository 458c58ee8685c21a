// Package cache provides a Redis client wrapper for Meter. It backs the
// per-principal rate limiter and the analytics result cache.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
)

// keyPrefix namespaces every key Meter writes.
const keyPrefix = "meter:"

// Cache wraps a Redis client with Meter-specific operations.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr     string // host:port
	Password string
	DB       int
}

// NewCache creates a Redis client and verifies connectivity.
func NewCache(ctx context.Context, opts Options, log *logger.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	log = logger.OrNop(log)
	log.Info("cache: connected to Redis", "addr", opts.Addr)
	return New(client, log), nil
}

// New wraps an existing client.
func New(client *redis.Client, log *logger.Logger) *Cache {
	return &Cache{client: client, log: logger.OrNop(log)}
}

// Close shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		c.log.Debug("cache: closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// Get retrieves a value from the cache by key.
// Returns an empty string and no error if the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a key-value pair in the cache with the given TTL.
// A zero TTL means the key will not expire.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// rateLimitLua atomically increments the counter and sets TTL only on the first
// request in the window. This prevents the TTL from being extended by subsequent
// requests, which would cause callers to be blocked longer than the intended window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitKey is the Redis key of the fixed-window counter for id.
func RateLimitKey(id string) string {
	return keyPrefix + "ratelimit:" + id
}

// windowSeconds converts a window to whole seconds, never less than one.
func windowSeconds(window time.Duration) int {
	s := int(window / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// RateLimitCheck performs a fixed-window rate limit check for a given key.
// It returns true if the request is allowed (under limit), false if rate-limited.
// The window TTL is set once on the first request and not extended by subsequent ones.
func (c *Cache) RateLimitCheck(ctx context.Context, id string, maxRequests int64, window time.Duration) (bool, error) {
	count, err := rateLimitLua.Run(ctx, c.client, []string{RateLimitKey(id)}, windowSeconds(window)).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}
	return count <= maxRequests, nil
}
