// Package transport exposes the gateway over HTTP: a JSON API for locks and
// records, and SSE and WebSocket streams for change events.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/mirkobrombin/go-editlock/v1/adapter"
	"github.com/mirkobrombin/go-editlock/v1/gateway"
	"github.com/mirkobrombin/go-editlock/v1/lock"
)

// Actor identity is established upstream and forwarded in these headers.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorLabel = "X-Actor-Label"
)

// API serves lock and record operations.
type API struct {
	gw     *gateway.Gateway[adapter.Document]
	logger *slog.Logger
}

// NewAPI returns an API over gw.
func NewAPI(gw *gateway.Gateway[adapter.Document], logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{gw: gw, logger: logger}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/records/{id}/lock", a.acquireLock)
	mux.HandleFunc("PUT /api/records/{id}/lock", a.renewLock)
	mux.HandleFunc("DELETE /api/records/{id}/lock", a.releaseLock)
	mux.HandleFunc("GET /api/records/{id}/lock", a.inspectLock)
	mux.HandleFunc("GET /api/locks", a.locks)
	mux.HandleFunc("GET /api/records/{id}", a.readRecord)
	mux.HandleFunc("PATCH /api/records/{id}", a.writeRecord)
	mux.HandleFunc("GET /api/records", a.listRecords)
}

type leaseRequest struct {
	LeaseSeconds int64 `json:"leaseSeconds"`
}

// maxLeaseSeconds is the largest leaseSeconds that fits in a time.Duration.
const maxLeaseSeconds = int64(math.MaxInt64 / time.Second)

type writeRequest struct {
	Fields  map[string]any `json:"fields"`
	Release bool           `json:"release"`
}

type inspectResponse struct {
	Locked bool           `json:"locked"`
	Lock   *lock.Snapshot `json:"lock,omitempty"`
}

type errorResponse struct {
	Error       string     `json:"error"`
	Message     string     `json:"message"`
	HolderLabel string     `json:"holderLabel,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (a *API) acquireLock(w http.ResponseWriter, r *http.Request) {
	actor, label := actorFrom(r)
	lease, ok := a.decodeLease(w, r)
	if !ok {
		return
	}
	snap, err := a.gw.AcquireLock(r.Context(), r.PathValue("id"), actor, label, lease)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) renewLock(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	lease, ok := a.decodeLease(w, r)
	if !ok {
		return
	}
	snap, err := a.gw.RenewLock(r.Context(), r.PathValue("id"), actor, lease)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) releaseLock(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	if err := a.gw.ReleaseLock(r.Context(), r.PathValue("id"), actor); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) inspectLock(w http.ResponseWriter, r *http.Request) {
	resp := inspectResponse{}
	if snap, ok := a.gw.InspectLock(r.PathValue("id")); ok {
		resp.Locked = true
		resp.Lock = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) locks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.gw.Locks())
}

func (a *API) readRecord(w http.ResponseWriter, r *http.Request) {
	snap, err := a.gw.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) writeRecord(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	var opts []gateway.WriteOption
	if req.Release {
		opts = append(opts, gateway.WithRelease())
	}
	mutation := func(d adapter.Document) (adapter.Document, error) {
		return d.Merge(req.Fields), nil
	}
	snap, err := a.gw.Write(r.Context(), r.PathValue("id"), actor, mutation, opts...)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	ids, err := a.gw.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// decodeLease reads an optional {"leaseSeconds": n} body. An empty body
// selects the default lease.
func (a *API) decodeLease(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	if r.ContentLength == 0 {
		return 0, true
	}
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return 0, false
	}
	switch {
	case req.LeaseSeconds < 0:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "leaseSeconds must not be negative"})
		return 0, false
	case req.LeaseSeconds > maxLeaseSeconds:
		// The manager caps leases, so saturating is enough.
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(req.LeaseSeconds) * time.Second, true
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var (
		held   *lock.AlreadyHeldError
		locked *gateway.LockedError
	)
	switch {
	case errors.As(err, &held):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "already_held", Message: held.Error(),
			HolderLabel: held.HolderLabel, ExpiresAt: &held.ExpiresAt,
		})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, errorResponse{
			Error: "locked", Message: locked.Error(),
			HolderLabel: locked.HolderLabel, ExpiresAt: &locked.ExpiresAt,
		})
	case errors.Is(err, lock.ErrNotHolder):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "not_holder", Message: err.Error()})
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, lock.ErrInvalidArgument), errors.Is(err, lock.ErrInvalidLease):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
	case errors.Is(err, lock.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: err.Error()})
	default:
		a.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage", Message: "the record store is unavailable, try again"})
	}
}

func actorFrom(r *http.Request) (id, label string) {
	id = r.Header.Get(HeaderActorID)
	label = r.Header.Get(HeaderActorLabel)
	return id, label
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
