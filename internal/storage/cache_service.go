package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/models"
)

// DefaultCacheTTL bounds how stale a cached read can be if an invalidation is lost
const DefaultCacheTTL = 10 * time.Minute

// CacheService stores JSON values in Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(cache *RedisCache, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CacheService{
		redis: cache,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyLatestBalance is the newest snapshot of an account
	CacheKeyLatestBalance CacheKeyType = "latest_balance"
	// CacheKeyLatestReturn is the newest daily return of an account
	CacheKeyLatestReturn CacheKeyType = "latest_return"
)

// GenerateCacheKey generates a cache key for a given type and parameters.
// Format: pnl:cache:<type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+3)
	parts = append(parts, "pnl", "cache", string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Client().Set(ctx, key, data, c.ttl).Err()
}

// Get decodes the cached value into dest. A miss returns false, nil.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Client().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Client().Del(ctx, keys...).Err()
}

// CachedStore serves the latest balance and return of an account from Redis.
// Writes go to Postgres first and then drop the affected keys, so the
// server sees what the worker stored. Cache failures fall back to Postgres.
type CachedStore struct {
	Repository
	cache  *CacheService
	logger *logging.Logger
}

// NewCachedStore wraps repo with cache
func NewCachedStore(repo Repository, cache *CacheService, logger *logging.Logger) *CachedStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CachedStore{Repository: repo, cache: cache, logger: logger}
}

// LatestSnapshot reads through the cache
func (s *CachedStore) LatestSnapshot(ctx context.Context, exchange, accountID string) (*models.BalanceSnapshot, error) {
	key := s.cache.GenerateCacheKey(CacheKeyLatestBalance, exchange, accountID)

	var cached models.BalanceSnapshot
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
	} else if hit {
		return &cached, nil
	}

	snapshot, err := s.Repository.LatestSnapshot(ctx, exchange, accountID)
	if err != nil || snapshot == nil {
		return snapshot, err
	}
	s.fill(ctx, key, snapshot)
	return snapshot, nil
}

// LatestReturn reads through the cache
func (s *CachedStore) LatestReturn(ctx context.Context, exchange, accountID string) (*models.DailyReturn, error) {
	key := s.cache.GenerateCacheKey(CacheKeyLatestReturn, exchange, accountID)

	var cached models.DailyReturn
	if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
	} else if hit {
		return &cached, nil
	}

	dr, err := s.Repository.LatestReturn(ctx, exchange, accountID)
	if err != nil || dr == nil {
		return dr, err
	}
	s.fill(ctx, key, dr)
	return dr, nil
}

// UpsertSnapshot writes through and invalidates the account's latest balance
func (s *CachedStore) UpsertSnapshot(ctx context.Context, snapshot *models.BalanceSnapshot) error {
	if err := s.Repository.UpsertSnapshot(ctx, snapshot); err != nil {
		return err
	}
	s.invalidate(ctx, s.cache.GenerateCacheKey(CacheKeyLatestBalance, snapshot.Exchange, snapshot.AccountID))
	return nil
}

// UpsertDailyReturn writes through and invalidates the account's latest return
func (s *CachedStore) UpsertDailyReturn(ctx context.Context, dr *models.DailyReturn) error {
	if err := s.Repository.UpsertDailyReturn(ctx, dr); err != nil {
		return err
	}
	s.invalidate(ctx, s.cache.GenerateCacheKey(CacheKeyLatestReturn, dr.Exchange, dr.AccountID))
	return nil
}

func (s *CachedStore) fill(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.cache.Invalidate(ctx, key); err != nil {
		// the TTL bounds the staleness
		s.logger.WithError(err).WithField("key", key).Warn("Cache invalidation failed")
	}
}
