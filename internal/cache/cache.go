package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aidawidget/aidawidget/internal/config"
)

// Cache is a key/value store with per-entry expiry. Implementations must be
// safe for concurrent use; concurrent writers to one key resolve as last
// writer wins.
type Cache interface {
	// Get returns the value and true if the key is present and unexpired
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value that expires after ttl
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New builds the cache selected by cfg
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryCache(), nil
	case BackendRedis:
		rc, err := NewRedisCache(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "aidawidget:",
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
