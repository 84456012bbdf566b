package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-editlock/v1/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Streams serves change events to observers. Every connection is a session
// in the registry for as long as it stays open.
type Streams struct {
	reg         *session.Registry
	defaultRoom string
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewStreams returns stream handlers over reg. Connections that name no room
// join defaultRoom.
func NewStreams(reg *session.Registry, defaultRoom string, logger *slog.Logger) *Streams {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streams{reg: reg, defaultRoom: defaultRoom, logger: logger, done: make(chan struct{})}
}

// Close ends every open stream. It is meant for http.Server.RegisterOnShutdown,
// since Shutdown alone waits for streaming handlers to return.
func (s *Streams) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Register mounts /events and /ws on mux.
func (s *Streams) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /events", s.SSE)
	mux.HandleFunc("GET /ws", s.WebSocket)
}

// streamActor reads the actor from the header or, for browser clients that
// cannot set headers on EventSource and WebSocket, the "actor" query
// parameter.
func (s *Streams) streamActor(r *http.Request) (string, []string) {
	actor := r.Header.Get(HeaderActorID)
	if actor == "" {
		actor = r.URL.Query().Get("actor")
	}
	rooms := r.URL.Query()["room"]
	if len(rooms) == 0 {
		rooms = []string{s.defaultRoom}
	}
	return actor, rooms
}

// SSE streams events as Server-Sent Events. The stream ends when the client
// goes away or the session is evicted for falling behind.
func (s *Streams) SSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	actor, rooms := s.streamActor(r)
	sess, err := s.reg.Connect(r.Context(), actor, rooms...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.disconnect(sess)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := sess.Subscription().C()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		}
	}
}

// clientOp is a room change requested by a WebSocket client.
type clientOp struct {
	Op   string `json:"op"`
	Room string `json:"room"`
}

// WebSocket streams events as JSON text messages. Clients may send
// {"op":"join"|"leave","room":...} to change rooms.
func (s *Streams) WebSocket(w http.ResponseWriter, r *http.Request) {
	actor, rooms := s.streamActor(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess, err := s.reg.Connect(r.Context(), actor, rooms...)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(wsWriteWait))
		return
	}
	defer s.disconnect(sess)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readOps(conn, sess, cancel)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	ch := sess.Subscription().C()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "fell behind, reconnect"), time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(wsWriteWait))
			return
		}
	}
}

func (s *Streams) readOps(conn *websocket.Conn, sess *session.Session, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var op clientOp
		if err := conn.ReadJSON(&op); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		var err error
		switch op.Op {
		case "join":
			err = s.reg.Join(sess.ID, op.Room)
		case "leave":
			err = s.reg.Leave(sess.ID, op.Room)
		default:
			s.logger.Debug("ignoring unknown client op", "session", sess.ID, "op", op.Op)
		}
		if err != nil {
			s.logger.Debug("client op failed", "session", sess.ID, "op", op.Op, "room", op.Room, "error", err)
		}
	}
}

func (s *Streams) disconnect(sess *session.Session) {
	if err := s.reg.Disconnect(context.Background(), sess.ID); err != nil {
		s.logger.Warn("session cleanup failed", "session", sess.ID, "actor", sess.ActorID, "error", err)
	}
}

