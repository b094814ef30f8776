package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/notify"
)

// Brainstorm websocket operations.
const (
	OpStart   = "start"
	OpRespond = "respond"
	OpFinish  = "finish"
	OpCancel  = "cancel"
	OpResume  = "resume"
)

// BrainstormRequest is one client message on /api/brainstorm/ws.
type BrainstormRequest struct {
	Op      string `json:"op"`
	ChatID  int64  `json:"chat_id"`
	Project string `json:"project,omitempty"`
	Text    string `json:"text,omitempty"`
}

// BrainstormMessage is one server message on /api/brainstorm/ws. Each
// request produces zero or more "update" messages and then exactly one of
// "result", "finished", "cancelled" or "error".
type BrainstormMessage struct {
	Type      string                   `json:"type"`
	Update    *brainstorm.Update       `json:"update,omitempty"`
	Finish    *brainstorm.FinishResult `json:"finish,omitempty"`
	Cancelled bool                     `json:"cancelled,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func (s *Server) registerBrainstormRoutes() {
	s.mux.HandleFunc("GET /api/brainstorm/sessions", s.handleBrainstormSessions)
	s.mux.HandleFunc("DELETE /api/brainstorm/sessions/{chat}", s.handleBrainstormCancel)
	s.mux.HandleFunc("GET /api/brainstorm/history", s.handleBrainstormHistory)
	s.mux.HandleFunc("POST /api/brainstorm/history/{index}/export", s.handleBrainstormExport)
	s.mux.HandleFunc("GET /api/brainstorm/ws", s.handleBrainstormWS)
}

func (s *Server) handleBrainstormSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.deps.Brainstorm.Sessions()
	if sessions == nil {
		sessions = []brainstorm.Session{}
	}
	respondOK(w, sessions)
}

func (s *Server) handleBrainstormCancel(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.PathValue("chat"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_CHAT_ID", err.Error())
		return
	}
	if !s.deps.Brainstorm.Cancel(r.Context(), chatID) {
		respondError(w, http.StatusNotFound, string(brainstorm.ErrNoSession), brainstorm.MsgNoSession)
		return
	}
	respondOK(w, map[string]bool{"cancelled": true})
}

func (s *Server) handleBrainstormHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Brainstorm.History(r.URL.Query().Get("project"))
	if entries == nil {
		entries = []brainstorm.HistoryEntry{}
	}
	respondOK(w, entries)
}

func (s *Server) handleBrainstormExport(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_INDEX", err.Error())
		return
	}
	path, err := s.deps.Brainstorm.ExportSession(index)
	switch {
	case errors.Is(err, brainstorm.ErrIndexOutOfRange):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, brainstorm.ErrNoConversation):
		respondError(w, http.StatusConflict, "NO_CONVERSATION", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "EXPORT_FAILED", err.Error())
	default:
		respondOK(w, map[string]string{"path": path})
	}
}

// wsWriter serializes writes from the operation and heartbeat goroutines.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsWriter) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) handleBrainstormWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrade(w, r)
	if err != nil {
		return
	}
	defer conn.Close()
	out := &wsWriter{conn: conn}
	_ = out.write(BrainstormMessage{Type: "connected"})

	// A closed socket cancels the in-flight turn; the claude session keeps
	// running and the turn reports a timeout.
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go heartbeat(ctx, done, 30*time.Second, out.write)

	requests := make(chan BrainstormRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req BrainstormRequest
			if err := conn.ReadJSON(&req); err != nil {
				if closedUnexpectedly(err) {
					apiLog.Warn("brainstorm_ws_closed_unexpectedly", "error", err)
				}
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		msg := s.runBrainstorm(ctx, req, func(u brainstorm.Update) {
			_ = out.write(BrainstormMessage{Type: "update", Update: &u})
		})
		if err := out.write(msg); err != nil {
			return
		}
	}
}

func (s *Server) runBrainstorm(ctx context.Context, req BrainstormRequest, progress brainstorm.ProgressFunc) BrainstormMessage {
	mgr := s.deps.Brainstorm
	result := func(u brainstorm.Update) BrainstormMessage {
		return BrainstormMessage{Type: "result", Update: &u}
	}

	switch req.Op {
	case OpStart, OpResume:
		p, err := s.findProject(ctx, req.Project)
		if err != nil {
			return BrainstormMessage{Type: "error", Error: err.Error()}
		}
		if req.Op == OpStart {
			return result(mgr.Start(ctx, req.ChatID, p.Name, p.Path, req.Text, progress))
		}
		entry, ok := mgr.GetResumableSession(p.Name)
		if !ok {
			return result(brainstorm.Update{
				Code:  brainstorm.ErrNoSession,
				Text:  fmt.Sprintf("No resumable brainstorm for %s.", p.Name),
				Final: true,
			})
		}
		return result(mgr.ResumeArchivedSession(ctx, req.ChatID, p.Name, p.Path, entry, progress))

	case OpRespond:
		return result(mgr.Respond(ctx, req.ChatID, req.Text, progress))

	case OpFinish:
		fr := mgr.Finish(ctx, req.ChatID)
		if fr.OK {
			s.notify(ctx, notify.Event{Kind: notify.KindBrainstorm, ChatID: req.ChatID, Text: fr.Message, Data: fr})
		}
		return BrainstormMessage{Type: "finished", Finish: &fr}

	case OpCancel:
		return BrainstormMessage{Type: "cancelled", Cancelled: mgr.Cancel(ctx, req.ChatID)}
	}
	return BrainstormMessage{Type: "error", Error: fmt.Sprintf("unknown op %q", req.Op)}
}

func (s *Server) notify(ctx context.Context, ev notify.Event) {
	if s.deps.Notifier == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if _, err := s.deps.Notifier.Send(ctx, ev); err != nil {
		apiLog.Warn("notify_failed", "kind", string(ev.Kind), "error", err)
	}
}
