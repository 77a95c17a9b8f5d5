package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"adaptive-quiz-service/internal/domain"
	"adaptive-quiz-service/internal/metrics"
	"adaptive-quiz-service/internal/pkg/logger"
)

// readThrough keeps the cache-as-accelerator rules in one place: reads try the cache and fall
// back to the source, writes go to the source first and the cache second. Cache failures are
// logged and never returned.
type readThrough[T any] struct {
	cache   Cache
	ttl     time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
}

func newReadThrough[T any](cache Cache, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *readThrough[T] {
	return &readThrough[T]{cache: cache, ttl: ttl, log: log, metrics: m}
}

// Get returns the cached value for key, or loads it from the source and caches it.
func (r *readThrough[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := r.lookup(ctx, key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	r.Put(ctx, key, v)
	return v, nil
}

// Write runs the source mutation and, once it succeeded, refreshes the cache with its result.
func (r *readThrough[T]) Write(ctx context.Context, key string, write func(context.Context) (T, error)) (T, error) {
	v, err := write(ctx)
	if err != nil {
		return v, err
	}
	r.Put(ctx, key, v)
	return v, nil
}

// Put caches a value the caller already wrote to the source. When the cache rejects it, the
// key is deleted so readers fall back to the source.
func (r *readThrough[T]) Put(ctx context.Context, key string, v T) {
	data, err := json.Marshal(v)
	if err != nil {
		r.log.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.metrics.CacheError("set")
		r.log.Warn("cache write failed, dropping entry", "key", key, "error", err)
		// An older entry must not outlive a newer source write.
		r.Invalidate(ctx, key)
	}
}

// Invalidate drops key from the cache.
func (r *readThrough[T]) Invalidate(ctx context.Context, key string) {
	if err := r.cache.Del(ctx, key); err != nil {
		r.metrics.CacheError("del")
		r.log.Warn("cache delete failed", "key", key, "error", err)
	}
}

func (r *readThrough[T]) lookup(ctx context.Context, key string) (T, bool) {
	var v T
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			r.metrics.CacheError("get")
			r.log.Warn("cache read failed, falling back to store", "key", key, "error", err)
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		r.log.Warn("cache entry unreadable, falling back to store", "key", key, "error", err)
		return v, false
	}
	return v, true
}
