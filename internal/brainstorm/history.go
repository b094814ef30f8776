package brainstorm

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sjoeboo/loopbot/internal/jsonfile"
)

// Outcome records how a session ended.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeCancelled Outcome = "cancelled"
)

// HistoryEntry is an archived session.
type HistoryEntry struct {
	Project      string    `json:"project"`
	Topic        string    `json:"topic"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Outcome      Outcome   `json:"outcome"`
	Turns        int       `json:"turns"`
	LastResponse string    `json:"last_response,omitempty"`
	Conversation []Message `json:"conversation,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
}

// Resumable reports whether claude can pick the conversation up again.
func (e HistoryEntry) Resumable() bool {
	return len(e.Conversation) > 0 && e.SessionID != ""
}

// History is the append-only brainstorm archive, a JSON array on disk.
type History struct {
	path string
	mu   sync.Mutex
}

func NewHistory(path string) *History {
	return &History{path: path}
}

func (h *History) readAll() []HistoryEntry {
	var entries []HistoryEntry
	if err := jsonfile.Read(h.path, &entries); err != nil {
		if !errors.Is(err, jsonfile.ErrNotExist) {
			bsLog.Warn("brainstorm_history_unreadable", "path", h.path, "error", err)
		}
		return nil
	}
	return entries
}

// Append adds e to the end of the archive.
func (h *History) Append(e HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return jsonfile.WriteAtomic(h.path, append(h.readAll(), e))
}

// List returns entries newest first by finish time, limited to project when
// it is non-empty.
func (h *History) List(project string) []HistoryEntry {
	h.mu.Lock()
	entries := h.readAll()
	h.mu.Unlock()

	out := entries[:0]
	for _, e := range entries {
		if project == "" || e.Project == project {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out
}

func newHistoryEntry(s *Session, outcome Outcome, finished time.Time) HistoryEntry {
	topic := head(s.InitialPrompt, 100)
	if topic != s.InitialPrompt {
		topic += "..."
	}
	return HistoryEntry{
		Project:      s.Project,
		Topic:        topic,
		StartedAt:    s.StartedAt,
		FinishedAt:   finished,
		Outcome:      outcome,
		Turns:        len(s.Conversation) / 2,
		LastResponse: head(s.LastResponse, 500),
		Conversation: append([]Message(nil), s.Conversation...),
		SessionID:    s.SessionID,
	}
}

func (m *Manager) archive(s *Session, outcome Outcome) {
	entry := newHistoryEntry(s, outcome, m.opts.Now())
	if err := m.history.Append(entry); err != nil {
		bsLog.Error("brainstorm_archive_failed", "project", s.Project, "error", err)
		return
	}
	bsLog.Debug("brainstorm_archived", "project", s.Project, "outcome", string(outcome), "turns", entry.Turns)
}

// History lists archived sessions newest first, optionally for one project.
func (m *Manager) History(project string) []HistoryEntry {
	return m.history.List(project)
}

// GetResumableSession returns the newest archived session for project that
// has a conversation and a resume token.
func (m *Manager) GetResumableSession(project string) (HistoryEntry, bool) {
	for _, e := range m.history.List(project) {
		if e.Resumable() {
			return e, true
		}
	}
	return HistoryEntry{}, false
}
