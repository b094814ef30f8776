// Package api is loopbot's local control surface: a loopback HTTP server
// over the task and brainstorm managers, and the client the CLI uses.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

var apiLog = logging.ForComponent(logging.CompHTTP)

// Deps are the services the server exposes.
type Deps struct {
	Tasks      *task.Manager
	Brainstorm *brainstorm.Manager
	// Runner is used for pane captures when it implements tmux.Capturer.
	Runner tmux.Runner
	// Hub receives /api/events watchers.
	Hub *notify.Hub
	// Notifier is told about tasks started through the API. Optional.
	Notifier     notify.Sink
	ProjectsRoot string
	DiffRange    string
	// Token, when set, is required as a bearer token.
	Token string
}

// Server serves the control API. It binds to loopback only.
type Server struct {
	addr    string
	deps    Deps
	mux     *http.ServeMux
	server  *http.Server
	baseCtx context.Context
}

var wsUpgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.Contains(origin, "://127.0.0.1") || strings.Contains(origin, "://localhost")
	},
}

// New creates a Server for addr. An empty addr is valid for tests that only
// use ServeHTTP.
func New(addr string, deps Deps) *Server {
	s := &Server{
		addr:    addr,
		deps:    deps,
		mux:     http.NewServeMux(),
		baseCtx: context.Background(),
	}
	s.registerTaskRoutes()
	s.registerBrainstormRoutes()
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.server = &http.Server{
		Handler:      RequireToken(deps.Token, s.mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ServeHTTP delegates to the authenticated mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// Start listens on the configured address and serves until ctx is
// cancelled. Returns nil on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := checkLoopback(s.addr); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}
	s.baseCtx = ctx
	apiLog.Info("api_started", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("api listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("api listen address %q is not a loopback address", addr)
}

// RequireToken rejects requests without the bearer token. An empty token
// disables the check.
func RequireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte("Bearer " + token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			apiLog.Warn("api_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

// envelope wraps every JSON response.
type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error half of a response envelope.
type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode, msg string, details ...string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": ErrorBody{Code: errCode, Message: msg, Details: details}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// upgrade switches r to a websocket and clears the HTTP server deadlines.
func upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// heartbeat writes a heartbeat message every interval until done closes.
func heartbeat(ctx context.Context, done <-chan struct{}, interval time.Duration, write func(any) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := write(map[string]string{"type": "heartbeat"}); err != nil {
				return
			}
		}
	}
}

func closedUnexpectedly(err error) bool {
	return websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		respondError(w, http.StatusServiceUnavailable, "NO_EVENTS", "event stream not enabled")
		return
	}
	conn, err := upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()

	id := s.deps.Hub.Register(conn)
	apiLog.Info("events_client_connected", "client_id", id)
	defer func() {
		s.deps.Hub.Unregister(id)
		apiLog.Info("events_client_disconnected", "client_id", id)
	}()
	_ = s.deps.Hub.Write(id, notify.ServerMessage{Type: "connected"})

	done := make(chan struct{})
	defer close(done)
	go heartbeat(s.baseCtx, done, 30*time.Second, func(v any) error { return s.deps.Hub.Write(id, v) })

	// Watchers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if closedUnexpectedly(err) {
				apiLog.Warn("events_ws_closed_unexpectedly", "client_id", id, "error", err)
			}
			return
		}
	}
}
