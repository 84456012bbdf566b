package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache defines the basic operations for a cache layer.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves a value for the given key. The boolean return
	// indicates whether the key was found.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for the given key for the specified TTL. A zero
	// TTL keeps the entry until it is evicted or invalidated.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// Invalidate removes the key from the cache.
	Invalidate(ctx context.Context, key string) error
}

// estimateCost approximates the memory footprint of v by its JSON size.
func estimateCost(v any) int64 {
	b, err := json.Marshal(v)
	if err != nil || len(b) == 0 {
		return 1
	}
	return int64(len(b))
}
