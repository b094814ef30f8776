package brainstorm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjoeboo/loopbot/internal/jsonfile"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

var bsLog = logging.ForComponent(logging.CompBrainstorm)

// Options configures a Manager.
type Options struct {
	// Root is the projects root. Transcripts live in Root/.brainstorm and the
	// state files default to Root/.brainstorm_sessions.json and
	// Root/.brainstorm_history.json.
	Root         string
	SessionsPath string
	HistoryPath  string
	// ClaudeCommand is the agent binary (default "claude").
	ClaudeCommand string
	// PollInterval is how often a wait checks the tmux session.
	PollInterval time.Duration
	// Timeout bounds one wait.
	Timeout time.Duration
	Now     func() time.Time
}

// Manager owns the live brainstorming session of every chat.
type Manager struct {
	runner  tmux.Runner
	opts    Options
	history *History

	mu       sync.Mutex
	sessions map[int64]*Session
	seq      uint64

	writeMu sync.Mutex
	written uint64
}

// NewManager restores sessions whose tmux session is still alive.
func NewManager(ctx context.Context, runner tmux.Runner, opts Options) *Manager {
	if opts.SessionsPath == "" {
		opts.SessionsPath = filepath.Join(opts.Root, ".brainstorm_sessions.json")
	}
	if opts.HistoryPath == "" {
		opts.HistoryPath = filepath.Join(opts.Root, ".brainstorm_history.json")
	}
	if opts.ClaudeCommand == "" {
		opts.ClaudeCommand = "claude"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		runner:   runner,
		opts:     opts,
		history:  NewHistory(opts.HistoryPath),
		sessions: make(map[int64]*Session),
	}
	m.load(ctx)
	return m
}

func (m *Manager) load(ctx context.Context) {
	jsonfile.CleanupTemp(m.opts.SessionsPath)

	var saved []*Session
	if err := jsonfile.Read(m.opts.SessionsPath, &saved); err != nil {
		if !errors.Is(err, jsonfile.ErrNotExist) {
			bsLog.Warn("brainstorm_sessions_unreadable", "path", m.opts.SessionsPath, "error", err)
		}
		return
	}
	for _, s := range saved {
		if s == nil || !m.runner.IsRunning(ctx, s.TmuxSession) {
			continue
		}
		// Nobody is waiting on a turn started by a previous process.
		if !s.idle() {
			s.Status = StatusError
		}
		m.sessions[s.ChatID] = s
		bsLog.Info("brainstorm_session_restored", "chat_id", s.ChatID, "project", s.Project)
	}
	m.save()
}

// save snapshots the sessions under mu and writes them without it.
func (m *Manager) save() {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if seq <= m.written {
		return
	}
	if err := jsonfile.WriteAtomic(m.opts.SessionsPath, out); err != nil {
		bsLog.Error("brainstorm_sessions_save_failed", "path", m.opts.SessionsPath, "error", err)
		return
	}
	m.written = seq
}

// TranscriptDir is where per-turn transcripts are written.
func (m *Manager) TranscriptDir() string {
	return filepath.Join(m.opts.Root, ".brainstorm")
}

// TmuxName is the tmux session that runs a chat's claude turns.
func TmuxName(chatID int64) string {
	return tmux.SafeName("brainstorm-" + strconv.FormatInt(chatID, 10))
}

// transcriptPath names a fresh transcript. Each turn gets its own file.
func (m *Manager) transcriptPath(chatID int64) string {
	return filepath.Join(m.TranscriptDir(), fmt.Sprintf("brainstorm_%d_%s.jsonl", chatID, uuid.NewString()[:8]))
}

// agentCommand builds the shell command for one claude turn.
func agentCommand(claude, prompt, file, resumeID string) string {
	parts := []string{claude, "-p", "--verbose", "--output-format", "stream-json"}
	if resumeID != "" {
		parts = append(parts, "--resume", tmux.Quote(resumeID))
	}
	parts = append(parts, tmux.Quote(prompt), ">", tmux.Quote(file), "2>&1")
	return strings.Join(parts, " ")
}

func (m *Manager) launch(ctx context.Context, name, workdir, prompt, file, resumeID string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	return m.runner.Start(ctx, name, workdir, agentCommand(m.opts.ClaudeCommand, prompt, file, resumeID))
}

// Session returns a copy of the chat's session, or nil.
func (m *Manager) Session(chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.sessions[chatID]; s != nil {
		return s.clone()
	}
	return nil
}

// Sessions returns copies of all live sessions ordered by chat id.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Start opens a new session for chatID and returns claude's first answer.
func (m *Manager) Start(ctx context.Context, chatID int64, project, projectPath, prompt string, progress ProgressFunc) Update {
	return m.open(ctx, &Session{
		ChatID:        chatID,
		Project:       project,
		ProjectPath:   projectPath,
		InitialPrompt: prompt,
	}, brainstormPrefix+prompt, prompt, progress)
}

// open registers s, runs its first turn and records the answer. Any failure
// removes the session again.
func (m *Manager) open(ctx context.Context, s *Session, claudePrompt, userText string, progress ProgressFunc) Update {
	m.mu.Lock()
	if _, ok := m.sessions[s.ChatID]; ok {
		m.mu.Unlock()
		return final(ErrSessionActive, MsgSessionActive)
	}
	s.TmuxSession = TmuxName(s.ChatID)
	s.OutputFile = m.transcriptPath(s.ChatID)
	s.StartedAt = m.opts.Now()
	s.Status = StatusWaiting
	m.sessions[s.ChatID] = s
	resumeID := s.SessionID
	m.mu.Unlock()
	// The snapshot must list the chat before its transcript exists, or
	// maintenance treats the transcript as an orphan.
	m.save()

	progress.emit(CodeStarting, MsgStarting)

	if err := m.launch(ctx, s.TmuxSession, s.ProjectPath, claudePrompt, s.OutputFile, resumeID); err != nil {
		bsLog.Error("brainstorm_start_failed", "chat_id", s.ChatID, "error", err)
		m.cleanup(ctx, s)
		return final(ErrStartFailed, MsgStartFailed)
	}
	m.mu.Lock()
	s.Status = StatusResponding
	m.mu.Unlock()
	progress.emit(CodeThinking, MsgThinking)

	res := m.waitForResult(ctx, s.TmuxSession, s.OutputFile)
	if res.Code != CodeOK {
		bsLog.Warn("brainstorm_start_no_answer", "chat_id", s.ChatID, "code", string(res.Code))
		m.cleanup(ctx, s)
		return final(res.Code, res.Text)
	}

	if !m.record(s, userText, res) {
		return final(ErrNoSession, MsgNoSession)
	}
	bsLog.Info("brainstorm_started", "chat_id", s.ChatID, "project", s.Project, "resumed", resumeID != "")
	return final(CodeOK, res.Text)
}

// record stores a successful turn on s if s is still the chat's session.
func (m *Manager) record(s *Session, userText string, res waitResult) bool {
	m.mu.Lock()
	if m.sessions[s.ChatID] != s {
		m.mu.Unlock()
		return false
	}
	if res.SessionID != "" {
		s.SessionID = res.SessionID
	}
	s.LastResponse = res.Text
	s.Conversation = append(s.Conversation,
		Message{Role: RoleUser, Text: userText},
		Message{Role: RoleAssistant, Text: res.Text})
	s.Status = StatusReady
	m.mu.Unlock()
	m.save()
	return true
}

// Respond sends message as the next user turn.
func (m *Manager) Respond(ctx context.Context, chatID int64, message string, progress ProgressFunc) Update {
	m.mu.Lock()
	s := m.sessions[chatID]
	if s == nil {
		m.mu.Unlock()
		return final(ErrNoSession, MsgNoSession)
	}
	if s.SessionID == "" || !s.idle() {
		m.mu.Unlock()
		return final(ErrNotReady, MsgNotReady)
	}
	s.OutputFile = m.transcriptPath(chatID)
	s.Status = StatusResponding
	name, workdir, file, resumeID := s.TmuxSession, s.ProjectPath, s.OutputFile, s.SessionID
	m.mu.Unlock()

	progress.emit(CodeThinking, MsgThinking)

	if err := m.launch(ctx, name, workdir, message, file, resumeID); err != nil {
		bsLog.Error("brainstorm_respond_failed", "chat_id", chatID, "error", err)
		m.markError(s)
		return final(ErrStartFailed, MsgStartFailed)
	}

	res := m.waitForResult(ctx, name, file)
	if res.Code != CodeOK {
		bsLog.Warn("brainstorm_respond_no_answer", "chat_id", chatID, "code", string(res.Code))
		m.markError(s)
		return final(res.Code, res.Text)
	}
	if !m.record(s, message, res) {
		return final(ErrNoSession, MsgNoSession)
	}
	return final(CodeOK, res.Text)
}

func (m *Manager) markError(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ChatID] != s {
		m.mu.Unlock()
		return
	}
	s.Status = StatusError
	m.mu.Unlock()
	m.save()
}

// RoadmapPath is where Finish writes the summary for a project.
func RoadmapPath(projectPath string) string {
	return filepath.Join(projectPath, "docs", "ROADMAP.md")
}

// Finish asks claude for a summary, writes it to the project's roadmap,
// archives the session as saved and tears it down. The session is torn
// down on every failure after it was found, except while a turn is still
// in flight.
func (m *Manager) Finish(ctx context.Context, chatID int64) FinishResult {
	m.mu.Lock()
	s := m.sessions[chatID]
	if s == nil {
		m.mu.Unlock()
		return FinishResult{Message: MsgNoSession}
	}
	if !s.idle() {
		m.mu.Unlock()
		return FinishResult{Message: MsgNotReady}
	}
	if s.SessionID == "" {
		m.mu.Unlock()
		m.cleanup(ctx, s)
		return FinishResult{Message: MsgNotReady}
	}
	s.OutputFile = m.transcriptPath(chatID)
	s.Status = StatusResponding
	name, workdir, file, resumeID := s.TmuxSession, s.ProjectPath, s.OutputFile, s.SessionID
	m.mu.Unlock()

	if err := m.launch(ctx, name, workdir, summaryPrompt, file, resumeID); err != nil {
		bsLog.Error("brainstorm_finish_failed", "chat_id", chatID, "error", err)
		m.cleanup(ctx, s)
		return FinishResult{Message: MsgStartFailed}
	}

	res := m.waitForResult(ctx, name, file)
	if res.Code != CodeOK {
		m.cleanup(ctx, s)
		return FinishResult{Message: res.Text}
	}

	path := RoadmapPath(workdir)
	if err := writeRoadmap(path, res.Text); err != nil {
		bsLog.Error("brainstorm_roadmap_write_failed", "path", path, "error", err)
		m.cleanup(ctx, s)
		return FinishResult{Message: fmt.Sprintf("Failed to write %s: %v", path, err)}
	}

	m.mu.Lock()
	if res.SessionID != "" {
		s.SessionID = res.SessionID
	}
	snap := s.clone()
	m.mu.Unlock()

	m.archive(snap, OutcomeSaved)
	m.cleanup(ctx, s)
	bsLog.Info("brainstorm_finished", "chat_id", chatID, "project", snap.Project, "path", path)
	return FinishResult{
		OK:       true,
		Message:  fmt.Sprintf(MsgRoadmapSaved, path),
		Response: res.Text,
		Path:     path,
	}
}

func writeRoadmap(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Cancel archives the chat's session as cancelled and tears it down. It
// reports whether a session existed.
func (m *Manager) Cancel(ctx context.Context, chatID int64) bool {
	m.mu.Lock()
	s := m.sessions[chatID]
	var snap *Session
	if s != nil {
		snap = s.clone()
	}
	m.mu.Unlock()
	if s == nil {
		return false
	}
	m.archive(snap, OutcomeCancelled)
	m.cleanup(ctx, s)
	bsLog.Info("brainstorm_cancelled", "chat_id", chatID, "project", snap.Project)
	return true
}

// cleanup removes s, kills its tmux session and deletes its current
// transcript. It is a no-op if s is no longer the chat's session.
func (m *Manager) cleanup(ctx context.Context, s *Session) {
	m.mu.Lock()
	if m.sessions[s.ChatID] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ChatID)
	name, file := s.TmuxSession, s.OutputFile
	m.mu.Unlock()

	if m.runner.IsRunning(ctx, name) {
		m.runner.Kill(ctx, name)
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		bsLog.Debug("brainstorm_transcript_remove_failed", "file", file, "error", err)
	}
	m.save()
}
