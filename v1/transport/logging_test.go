package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		out = append(out, line)
	}
	return out
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusConflict, "INFO"},
		{http.StatusLocked, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
		{http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		h := LoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("body"))
		}))
		req := httptest.NewRequest(http.MethodPatch, "/api/records/P1", nil)
		req.Header.Set(HeaderActorID, "A")
		h.ServeHTTP(httptest.NewRecorder(), req)

		lines := logLines(t, &buf)
		if len(lines) != 1 {
			t.Fatalf("status %d: expected one log line, got %d", tc.status, len(lines))
		}
		l := lines[0]
		if l["level"] != tc.level {
			t.Fatalf("status %d: expected level %s, got %v", tc.status, tc.level, l["level"])
		}
		if l["status"] != float64(tc.status) || l["path"] != "/api/records/P1" || l["actor"] != "A" || l["bytes_written"] != 4.0 {
			t.Fatalf("status %d: unexpected fields %v", tc.status, l)
		}
	}
}

func TestLoggingMiddlewareSkipsPaths(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(newTestLogger(&buf), "/health", "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, path := range []string{"/health", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if buf.Len() != 0 {
		t.Fatalf("skipped paths should not be logged, got %s", buf.String())
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/locks", nil))
	if len(logLines(t, &buf)) != 1 {
		t.Fatal("expected other paths to be logged")
	}
}

func TestLoggingMiddlewareFlushPassthrough(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		f.Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if !rec.Flushed {
		t.Fatal("flush not forwarded to the underlying writer")
	}
}

// hijackRecorder is a recorder that can be hijacked.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestLoggingMiddlewareHijackPassthrough(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("hijack: %v", err)
		}
	}))
	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !rec.hijacked {
		t.Fatal("hijack not forwarded to the underlying writer")
	}
	lines := logLines(t, &buf)
	if len(lines) != 1 || lines[0]["status"] != float64(http.StatusSwitchingProtocols) {
		t.Fatalf("expected 101 logged for a hijacked connection, got %v", lines)
	}

	// A writer without Hijack support yields an error instead of a panic.
	plain := LoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := w.(http.Hijacker).Hijack(); err == nil {
			t.Fatal("expected hijack error from a plain recorder")
		}
	}))
	plain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
}
