package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-editlock/v1/event"
)

// readSSE reads one event block and returns its fields.
func readSSE(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	out := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(out) == 0 {
				continue
			}
			return out
		}
		k, v, _ := strings.Cut(line, ": ")
		out[k] = v
	}
}

func TestSSEStreamsLockEvents(t *testing.T) {
	s := newStack(t)
	resp, err := http.Get(s.srv.URL + "/events?actor=C")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if resp.Header.Get("X-Session-ID") == "" {
		t.Fatal("expected session id header")
	}

	s.do(t, http.MethodPost, "/api/records/P1/lock", "A", "Alice", "")

	fields := readSSE(t, bufio.NewReader(resp.Body))
	if fields["event"] != string(event.KindLockAcquired) || fields["id"] != "1" {
		t.Fatalf("unexpected event fields %v", fields)
	}
	var ev event.ChangeEvent
	if err := json.Unmarshal([]byte(fields["data"]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var p event.LockPayload
	if err := ev.Decode(&p); err != nil || p.HolderLabel != "Alice" {
		t.Fatalf("unexpected payload %+v err=%v", p, err)
	}
}

func TestSSEDisconnectReleasesLocks(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/events", nil)
	req.Header.Set(HeaderActorID, "A")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.reg.Sessions("A") != 1 {
		t.Fatalf("expected one session for A, got %d", s.reg.Sessions("A"))
	}
	s.do(t, http.MethodPost, "/api/records/P1/lock", "A", "Alice", "")

	cancel()
	resp.Body.Close()
	waitFor(t, "session cleanup", func() bool { return s.reg.Len() == 0 })
	if _, ok := s.locks.Inspect("P1"); ok {
		t.Fatal("expected lock released after the last stream closed")
	}
}

func TestWebSocketStreamAndJoin(t *testing.T) {
	s := newStack(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?actor=C"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "ws session", func() bool { return s.reg.Sessions("C") == 1 })

	s.do(t, http.MethodPost, "/api/records/P1/lock", "A", "Alice", "")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev event.ChangeEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != event.KindLockAcquired || ev.ResourceID != "P1" {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := conn.WriteJSON(clientOp{Op: "join", Room: "ops"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "join", func() bool { return s.hub.Members("ops") == 1 })
	ops, _ := event.New(event.KindRecordUpdated, "P2", 99, t0, nil)
	_ = s.hub.Publish(context.Background(), "ops", ops)
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.ResourceID != "P2" || ev.Seq != 99 {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := conn.WriteJSON(clientOp{Op: "leave", Room: "ops"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "leave", func() bool { return s.hub.Members("ops") == 0 })

	conn.Close()
	waitFor(t, "ws cleanup", func() bool { return s.reg.Len() == 0 })
}

func TestStreamsCloseEndsSSE(t *testing.T) {
	s := newStack(t)
	resp, err := http.Get(s.srv.URL + "/events?actor=C&room=admin&room=ops")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if s.hub.Members("ops") != 1 {
		t.Fatal("expected session joined to both rooms")
	}

	s.streams.Close()
	s.streams.Close()
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		done <- err
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after Close")
	}
	waitFor(t, "session cleanup", func() bool { return s.reg.Len() == 0 })
}
