package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/fleet-trip-api/pkg/errors"
)

const scanBatch = 200

// CacheRepository keeps JSON encoded history pages in Redis. A repository
// without a client behaves as an always-empty cache.
type CacheRepository struct {
	client redis.UniversalClient
}

// NewCacheRepository wraps client, which may be nil.
func NewCacheRepository(client redis.UniversalClient) *CacheRepository {
	return &CacheRepository{client: client}
}

func (r *CacheRepository) connected() bool {
	return r != nil && r.client != nil
}

// Get decodes the value at key into dest. Missing keys yield appErrors.ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if !r.connected() {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return appErrors.ErrCacheMiss
	case err != nil:
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A payload written by an older build is treated as absent.
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set stores value as JSON under key for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !r.connected() {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete unlinks the given keys.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if !r.connected() || len(keys) == 0 {
		return nil
	}
	if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete %d keys: %w", len(keys), err)
	}
	return nil
}

// DeleteByPattern scans for keys matching pattern and unlinks them batch by batch.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if !r.connected() {
		return nil
	}
	batch := make([]string, 0, scanBatch)
	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	return r.Delete(ctx, batch...)
}

// Counters reads integer keys in one round trip. Missing or non-numeric keys read as zero.
func (r *CacheRepository) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	out := make([]int64, len(keys))
	if !r.connected() || len(keys) == 0 {
		return out, nil
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache read %d counters: %w", len(keys), err)
	}
	for i, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			out[i] = n
		}
	}
	return out, nil
}

// Incr bumps the counter at key and extends its lifetime to ttl.
func (r *CacheRepository) Incr(ctx context.Context, key string, ttl time.Duration) error {
	if !r.connected() {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache incr %s: %w", key, err)
	}
	return nil
}
