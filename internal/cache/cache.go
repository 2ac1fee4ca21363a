// Package cache provides the score caches: an in-process LRU, Redis, and
// a two-phase cache that fronts Redis with the LRU.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// ErrNoTenant is returned for operations without a tenant.
var ErrNoTenant = errors.New("tenantID is required")

const defaultLocalTTL = 5 * time.Minute

// New creates a cache from configuration.
// "memory" returns an LRU cache; "redis" returns Redis, fronted by a
// local LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key/value surface every cache shares.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string, key string) error
}

func scoreKey(subjectID string) string {
	return "score:" + subjectID
}

func getScore(ctx context.Context, s byteStore, tenantID, subjectID string) (*domain.ScoreResult, error) {
	data, err := s.Get(ctx, tenantID, scoreKey(subjectID))
	if err != nil || data == nil {
		return nil, err
	}
	var r domain.ScoreResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode cached score for %s: %w", subjectID, err)
	}
	return &r, nil
}

func setScore(ctx context.Context, s byteStore, tenantID string, result *domain.ScoreResult, ttl time.Duration) error {
	if ttl <= 0 {
		// already stale; nothing worth caching
		return s.Delete(ctx, tenantID, scoreKey(result.SubjectID))
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode score for %s: %w", result.SubjectID, err)
	}
	return s.Set(ctx, tenantID, scoreKey(result.SubjectID), data, ttl)
}

// TwoPhaseCache reads from a local LRU first and falls back to Redis.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = defaultLocalTTL
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both layers; L1 never outlives the requested ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetScore retrieves a cached score.
func (c *TwoPhaseCache) GetScore(ctx context.Context, tenantID string, subjectID string) (*domain.ScoreResult, error) {
	return getScore(ctx, c, tenantID, subjectID)
}

// SetScore caches a score in both layers.
func (c *TwoPhaseCache) SetScore(ctx context.Context, tenantID string, result *domain.ScoreResult, ttl time.Duration) error {
	return setScore(ctx, c, tenantID, result, ttl)
}

// InvalidateScore drops a cached score from both layers.
func (c *TwoPhaseCache) InvalidateScore(ctx context.Context, tenantID string, subjectID string) error {
	return c.Delete(ctx, tenantID, scoreKey(subjectID))
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}
