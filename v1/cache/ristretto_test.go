package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// newRistrettoCache returns a Ristretto-backed cache for testing.
func newRistrettoCache[T any](t *testing.T) (*RistrettoCache[T], context.Context) {
	t.Helper()
	c, err := NewRistretto[T]()
	if err != nil {
		t.Fatalf("NewRistretto: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, context.Background()
}

var _ Cache[string] = (*RistrettoCache[string])(nil)

func TestRistrettoCacheGetSetInvalidate(t *testing.T) {
	c, ctx := newRistrettoCache[map[string]any](t)

	if err := c.Set(ctx, "P1", map[string]any{"name": "Hoodie"}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := c.Get(ctx, "P1"); err != nil || !ok || v["name"] != "Hoodie" {
		t.Fatalf("Get: expected Hoodie, got %v ok=%v err=%v", v, ok, err)
	}
	if err := c.Invalidate(ctx, "P1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, err := c.Get(ctx, "P1"); ok || err != nil {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestRistrettoCacheExpiration(t *testing.T) {
	c, ctx := newRistrettoCache[string](t)

	if err := c.Set(ctx, "P1", "hoodie", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, err := c.Get(ctx, "P1"); ok || err != nil {
		t.Fatalf("expected key to expire")
	}
}

func TestRistrettoCacheContext(t *testing.T) {
	c, _ := newRistrettoCache[string](t)

	ctxSet, cancelSet := context.WithCancel(context.Background())
	cancelSet()
	if err := c.Set(ctxSet, "a", "b", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
	if _, ok, err := c.Get(context.Background(), "a"); ok || err != nil {
		t.Fatalf("item should not be stored when context is canceled")
	}

	if err := c.Set(context.Background(), "P1", "hoodie", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctxGet, cancelGet := context.WithCancel(context.Background())
	cancelGet()
	if v, ok, err := c.Get(ctxGet, "P1"); !errors.Is(err, context.Canceled) || ok || v != "" {
		t.Fatalf("expected canceled context to prevent retrieval")
	}

	ctxInv, cancelInv := context.WithCancel(context.Background())
	cancelInv()
	if err := c.Invalidate(ctxInv, "P1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
	if v, ok, err := c.Get(context.Background(), "P1"); err != nil || !ok || v != "hoodie" {
		t.Fatalf("item should remain after canceled invalidate")
	}
}

func TestNewRistrettoSizing(t *testing.T) {
	if _, err := NewRistretto[string](WithMaxBytes(0)); err == nil {
		t.Fatal("expected error for zero byte budget")
	}
	if _, err := NewRistretto[string](WithCounters(0)); err == nil {
		t.Fatal("expected error for zero counters")
	}
	c, err := NewRistretto[string](WithMaxBytes(1<<10), WithCounters(100))
	if err != nil {
		t.Fatalf("NewRistretto: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	big := strings.Repeat("x", 4<<10)
	if err := c.Set(ctx, "P1", big, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "P1"); ok {
		t.Fatal("value larger than the byte budget should not be admitted")
	}
}

func TestEstimateCost(t *testing.T) {
	if got := estimateCost("abc"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := estimateCost(make(chan int)); got != 1 {
		t.Fatalf("expected fallback cost 1, got %d", got)
	}
}
