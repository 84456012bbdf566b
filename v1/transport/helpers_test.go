package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mirkobrombin/go-editlock/v1/adapter"
	"github.com/mirkobrombin/go-editlock/v1/broadcast"
	"github.com/mirkobrombin/go-editlock/v1/clock"
	"github.com/mirkobrombin/go-editlock/v1/gateway"
	"github.com/mirkobrombin/go-editlock/v1/lock"
	"github.com/mirkobrombin/go-editlock/v1/metrics"
	"github.com/mirkobrombin/go-editlock/v1/session"
)

var t0 = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type stack struct {
	srv     *httptest.Server
	hub     *broadcast.Hub
	locks   *lock.Manager
	reg     *session.Registry
	clk     *clock.Manual
	streams *Streams
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManual(t0)
	hub := broadcast.NewHub(broadcast.WithLogger(logger))
	locks := lock.NewManager(lock.NewStore(),
		lock.WithClock(clk),
		lock.WithPublisher(hub),
		lock.WithSweepInterval(0),
		lock.WithLogger(logger),
	)
	store := adapter.NewInMemoryStore[adapter.Document]()
	_ = store.Set(context.Background(), "P1", adapter.Document{"name": "Hoodie", "price": 35.0})
	_ = store.Set(context.Background(), "P2", adapter.Document{"name": "Mug", "price": 12.0})

	gw := gateway.New[adapter.Document](store, locks, gateway.WithLogger[adapter.Document](logger))
	reg := session.NewRegistry(hub, locks, session.WithLogger(logger))

	promReg := metrics.NewRegistry()
	metrics.RegisterMetrics(promReg)
	streams := NewStreams(reg, locks.Room(), logger)
	h := NewHandler(NewAPI(gw, logger), streams, promReg, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = locks.Close()
	})
	return &stack{srv: srv, hub: hub, locks: locks, reg: reg, clk: clk, streams: streams}
}

func (s *stack) do(t *testing.T, method, path, actor, label, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
	}
	if label != "" {
		req.Header.Set(HeaderActorLabel, label)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
