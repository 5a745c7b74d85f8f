package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is a byte cache with a TTL and a size bound. A miss is reported
// with found == false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetIfAbsent stores value only when key holds no live entry and
	// reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) map[string]any
	Close() error
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend string
	Size    int
	TTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func (c *Config) defaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Size <= 0 {
		c.Size = 10000
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
}

func New(cfg Config) (Cache, error) {
	cfg.defaults()

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryCache(cfg.Size, cfg.TTL), nil
	case BackendRedis:
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func FingerprintKey(fingerprint string) string {
	return "fp:" + fingerprint
}
