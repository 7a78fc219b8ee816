// Package server exposes the daemon's control surface over HTTP: health and
// readiness probes, Prometheus metrics, a JSON state snapshot, and a
// WebSocket channel on which UI collaborators receive session events and
// send commands.
//
// The WebSocket command channel is the daemon analog of direct user input:
// in particular, the retry_playback command is how a user action reaches a
// playback attempt parked on a busy output device.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sonantic-labs/parley/internal/health"
	"github.com/sonantic-labs/parley/internal/observe"
	"github.com/sonantic-labs/parley/internal/session"
)

// writeTimeout bounds each WebSocket event write.
const writeTimeout = 5 * time.Second

// sendBuffer is the per-client event queue. A client that falls this far
// behind is disconnected instead of stalling the broadcaster.
const sendBuffer = 32

// Controller is what the server needs from the session layer.
type Controller interface {
	Activate(ctx context.Context) error
	Mute()
	Toggle(ctx context.Context) error
	RetryPlayback() bool
	StopAudio()
	Snapshot() session.Snapshot
}

// command is the client→server WebSocket message.
type command struct {
	Op string `json:"op"`
}

// Server is the control surface. Create with New, wire session events in via
// [Server.Publish], and mount it with [Server.Register].
type Server struct {
	ctrl   Controller
	health *health.Handler

	mu      sync.Mutex
	clients map[chan []byte]*websocket.Conn
}

// New creates a Server for the given controller and health handler.
func New(ctrl Controller, h *health.Handler) *Server {
	return &Server{
		ctrl:    ctrl,
		health:  h,
		clients: make(map[chan []byte]*websocket.Conn),
	}
}

// Register mounts all control routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/ws", s.handleWS)
}

// Publish pushes a session event to every connected client. It is the
// session controller's listener.
func (s *Server) Publish(ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal session event", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, conn := range s.clients {
		select {
		case ch <- data:
		default:
			// Slow client. Closing the connection here also unblocks a
			// writer stuck mid-write on its socket.
			close(ch)
			delete(s.clients, ch)
			go conn.Close(websocket.StatusPolicyViolation, "slow consumer")
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(s.ctrl.Snapshot()); err != nil {
		slog.Error("encode state snapshot", "err", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	ch := make(chan []byte, sendBuffer)
	s.mu.Lock()
	s.clients[ch] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[ch]; ok {
			close(ch)
			delete(s.clients, ch)
		}
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()

	// Greet the client with the current state so it does not have to wait
	// for the next change.
	snap := s.ctrl.Snapshot()
	greeting, _ := json.Marshal(session.Event{Type: session.EventState, State: snap.State, Mode: snap.Mode})
	if err := s.write(ctx, conn, greeting); err != nil {
		return
	}

	go func() {
		for data := range ch {
			if err := s.write(ctx, conn, data); err != nil {
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.reply(ctx, conn, session.Event{Type: session.EventError, Message: "malformed command"})
			continue
		}
		s.dispatch(ctx, conn, cmd.Op)
	}
}

// dispatch executes one client command. Command failures go back to the
// issuing client only; state changes reach everyone via Publish.
func (s *Server) dispatch(ctx context.Context, conn *websocket.Conn, op string) {
	slog.Debug("control command", "op", op)
	switch op {
	case "activate":
		if err := s.ctrl.Activate(ctx); err != nil {
			slog.Warn("activate failed", "err", err)
		}
	case "mute":
		s.ctrl.Mute()
	case "toggle":
		if err := s.ctrl.Toggle(ctx); err != nil {
			slog.Warn("toggle failed", "err", err)
		}
	case "retry_playback":
		if !s.ctrl.RetryPlayback() {
			s.reply(ctx, conn, session.Event{Type: session.EventNotice, Message: "no blocked playback to retry"})
		}
	case "stop_audio":
		s.ctrl.StopAudio()
	default:
		s.reply(ctx, conn, session.Event{Type: session.EventError, Message: "unknown command " + op})
	}
}

func (s *Server) reply(ctx context.Context, conn *websocket.Conn, ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.write(ctx, conn, data); err != nil {
		slog.Debug("websocket reply failed", "err", err)
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// Middleware wraps h with the tracing/metrics middleware used for all
// control routes.
func Middleware(m *observe.Metrics, h http.Handler) http.Handler {
	return observe.Middleware(m)(h)
}
