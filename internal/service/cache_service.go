package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

const (
	cacheNamespace = "fleet"
	cacheCooldown  = 30 * time.Second
)

// CacheRepository is the key/value store behind CacheService.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Counters(ctx context.Context, keys ...string) ([]int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) error
}

// CacheService is the read-through cache used for trip history. When the store
// errors, lookups and writes are skipped for a short cooldown so a failing
// Redis does not add latency to every request. Invalidation is always attempted.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool

	now       func() time.Time
	pausedTil atomic.Int64
}

// NewCacheService builds the cache. A nil *CacheService is valid and disabled.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{
		repo:       repo,
		metrics:    metrics,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "history_cache")),
		enabled:    enabled && repo != nil,
		now:        time.Now,
	}
}

// Enabled reports whether the cache is configured.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled
}

// Key builds "fleet:<part>:<part>...".
func (s *CacheService) Key(parts ...string) string {
	return cacheNamespace + ":" + strings.Join(parts, ":")
}

func (s *CacheService) usable() bool {
	return s.Enabled() && s.now().UnixNano() >= s.pausedTil.Load()
}

func (s *CacheService) trip(op string, err error) {
	s.pausedTil.Store(s.now().Add(cacheCooldown).UnixNano())
	s.logger.Warn("cache unavailable, pausing", zap.String("op", op), zap.Duration("cooldown", cacheCooldown), zap.Error(err))
}

// Get loads key into dest and reports a hit. Misses and store failures both
// return false; only the latter carry an error.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.usable() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.trip("get", err)
		return false, err
	}
}

// Set writes value under key. ttl <= 0 uses the configured default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.usable() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.trip("set", err)
	}
	return err
}

// Invalidate removes every key matching pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// Versions reads the version counters that cached keys are derived from. ok is
// false when the cache cannot be used, and callers then neither read nor write.
func (s *CacheService) Versions(ctx context.Context, keys ...string) (versions []int64, ok bool) {
	if !s.usable() {
		return nil, false
	}
	versions, err := s.repo.Counters(ctx, keys...)
	if err != nil {
		s.trip("versions", err)
		return nil, false
	}
	return versions, true
}

// Bump moves a version counter forward so keys built from the old value are
// never read again. The counter outlives any value written under it.
func (s *CacheService) Bump(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.Incr(ctx, key, 2*s.defaultTTL); err != nil {
		s.trip("bump", err)
		return err
	}
	return nil
}
