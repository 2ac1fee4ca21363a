package domain

import (
	"context"
	"time"
)

// Cache stores recent scores so reads inside a score's validity window
// skip recomputation. Keys are namespaced by tenant; an empty tenantID is
// an error.
type Cache interface {
	// Get returns nil, nil for a missing key.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, tenantID string, key string) error

	// GetScore retrieves the cached score of a subject.
	// Returns nil, nil if no score is cached.
	GetScore(ctx context.Context, tenantID string, subjectID string) (*ScoreResult, error)

	// SetScore caches a score; callers pass the remaining validity as ttl.
	SetScore(ctx context.Context, tenantID string, result *ScoreResult, ttl time.Duration) error

	// InvalidateScore drops a cached score after new evidence arrives.
	InvalidateScore(ctx context.Context, tenantID string, subjectID string) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the score cache.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// in-process LRU, also the first level when two-phase is on
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// EnableTwoPhase puts the LRU in front of Redis.
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`
}
