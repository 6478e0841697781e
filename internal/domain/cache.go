package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Backs the reapply
// counters and short-lived verification result caching. Supports a local LRU
// (community) or Redis (pro).
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used for best-effort same-day reapply counting.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// CounterValue returns the current counter value without incrementing.
	CounterValue(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
