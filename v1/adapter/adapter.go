package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Store is the external record store the gateway reads from and writes to.
//
// T represents the record type held by the store.
type Store[T any] interface {
	// Get retrieves the record for id.
	// The boolean return indicates whether the record was found.
	Get(ctx context.Context, id string) (T, bool, error)
	// Set persists the record for id.
	Set(ctx context.Context, id string, value T) error
	// Keys returns the ids of every stored record.
	Keys(ctx context.Context) ([]string, error)
}

// InMemoryStore is a simple Store implementation backed by a map.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T)}
}

// Get implements Store.Get.
func (s *InMemoryStore[T]) Get(ctx context.Context, id string) (T, bool, error) {
	s.mu.RLock()
	v, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false, nil
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *InMemoryStore[T]) Set(ctx context.Context, id string, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[id] = value
	s.mu.Unlock()
	return nil
}

// Keys implements Store.Keys. Ids are returned sorted.
func (s *InMemoryStore[T]) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Seed loads a JSON object of the form {"id": record, ...} from r into s and
// returns the number of records written.
func Seed[T any](ctx context.Context, s Store[T], r io.Reader) (int, error) {
	var records map[string]T
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.Set(ctx, id, records[id]); err != nil {
			return 0, fmt.Errorf("seed %s: %w", id, err)
		}
	}
	return len(ids), nil
}
