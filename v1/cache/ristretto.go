package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mirkobrombin/go-editlock/v1/metrics"
)

// Default sizing for a storefront catalog of a few thousand records.
const (
	DefaultMaxBytes = 8 << 20
	DefaultCounters = 1e5
)

// RistrettoCache implements Cache using dgraph-io/ristretto. Entries are
// charged by their encoded size, so the budget is roughly bytes of JSON.
type RistrettoCache[T any] struct {
	c *ristretto.Cache
}

// RistrettoOption configures NewRistretto.
type RistrettoOption func(*ristretto.Config)

// WithMaxBytes bounds the total encoded size of cached values.
func WithMaxBytes(n int64) RistrettoOption {
	return func(c *ristretto.Config) { c.MaxCost = n }
}

// WithCounters sets how many keys ristretto tracks admission frequency for.
// About ten times the number of live records works well.
func WithCounters(n int64) RistrettoOption {
	return func(c *ristretto.Config) { c.NumCounters = n }
}

// NewRistretto returns a ristretto-backed Cache. Non-positive sizes are
// rejected by ristretto and come back as an error.
func NewRistretto[T any](opts ...RistrettoOption) (*RistrettoCache[T], error) {
	cfg := &ristretto.Config{
		NumCounters: DefaultCounters,
		MaxCost:     DefaultMaxBytes,
		BufferItems: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &RistrettoCache[T]{c: rc}, nil
}

// Get returns the cached value for key and counts the hit or miss.
func (r *RistrettoCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		metrics.CacheMissCounter.Inc()
		return zero, false, nil
	}
	val, ok := v.(T)
	if !ok {
		metrics.CacheMissCounter.Inc()
		return zero, false, nil
	}
	metrics.CacheHitCounter.Inc()
	return val, true, nil
}

// Set stores value under key. It waits for ristretto to apply the write, so
// a following Get observes it unless admission rejected the entry.
func (r *RistrettoCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.SetWithTTL(key, value, estimateCost(value), ttl)
	r.c.Wait()
	return nil
}

// Invalidate drops key.
func (r *RistrettoCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(key)
	r.c.Wait()
	return nil
}

// Close stops ristretto's background goroutines.
func (r *RistrettoCache[T]) Close() {
	r.c.Close()
}
