package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjoeboo/loopbot/internal/git"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/maintenance"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

var taskLog = logging.ForComponent(logging.CompTask)

// ErrNotFound is returned when a queued task id does not exist.
var ErrNotFound = errors.New("task not found")

// StartCode classifies the outcome of StartTask.
type StartCode string

const (
	CodeStarted      StartCode = "started"
	CodeQueued       StartCode = "queued"
	CodeQueueFull    StartCode = "queue_full"
	CodeDiskLow      StartCode = "disk_low"
	CodeLaunchFailed StartCode = "launch_failed"
	CodeInvalid      StartCode = "invalid"
)

// StartRequest asks for one loop run.
type StartRequest struct {
	Project     string `json:"project"`
	ProjectPath string `json:"project_path"`
	Mode        Mode   `json:"mode"`
	Iterations  int    `json:"iterations"`
	Idea        string `json:"idea,omitempty"`
}

// StartResult is the tagged outcome of StartTask. OK is true for both
// started and queued.
type StartResult struct {
	OK       bool        `json:"ok"`
	Code     StartCode   `json:"code"`
	Message  string      `json:"message"`
	Task     *Task       `json:"task,omitempty"`
	Queued   *QueuedTask `json:"queued,omitempty"`
	Position int         `json:"position,omitempty"`
}

// Completion pairs a finished task with the queued task promoted in its
// place. Completed is nil when an orphaned queue was promoted.
type Completion struct {
	Completed *Task `json:"completed,omitempty"`
	Next      *Task `json:"next,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// StatePath is the active tasks and queues snapshot.
	StatePath string
	// HistoryPath is the append-only task history.
	HistoryPath string
	// LoopScript is the shared loop script.
	LoopScript string
	// MaxQueueSize caps each project's queue.
	MaxQueueSize int
	// QueueTTL drops queued tasks older than this.
	QueueTTL time.Duration
	// MinDiskMB refuses launches below this much free space; 0 disables.
	MinDiskMB int
	// StaleThreshold is how long the progress marker may stay unchanged.
	StaleThreshold time.Duration

	// Now, DiskSpace and CommitHash default to the real implementations.
	Now        func() time.Time
	DiskSpace  func(path string, minMB int) (bool, float64, error)
	CommitHash func(ctx context.Context, dir string) (string, error)
}

// Manager owns active tasks and per-project queues. All exported methods are
// safe for concurrent use.
type Manager struct {
	runner  tmux.Runner
	opts    Options
	store   *Store
	history *History

	// mu guards active, queues, launching and seq. It is never held across a
	// tmux call or a file write.
	mu        sync.Mutex
	active    map[string]*Task
	queues    map[string][]QueuedTask
	launching map[string]bool
	seq       uint64
}

// NewManager restores state from disk. Active tasks whose session is gone
// are dropped; queues are kept as they were.
func NewManager(ctx context.Context, runner tmux.Runner, opts Options) *Manager {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 10
	}
	if opts.QueueTTL <= 0 {
		opts.QueueTTL = time.Hour
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DiskSpace == nil {
		opts.DiskSpace = maintenance.CheckDiskSpace
	}
	if opts.CommitHash == nil {
		opts.CommitHash = git.CommitHash
	}

	m := &Manager{
		runner:    runner,
		opts:      opts,
		store:     NewStore(opts.StatePath),
		history:   NewHistory(opts.HistoryPath),
		active:    make(map[string]*Task),
		queues:    make(map[string][]QueuedTask),
		launching: make(map[string]bool),
	}
	m.load(ctx)
	return m
}

func (m *Manager) load(ctx context.Context) {
	snap := m.store.Load()
	for key, t := range snap.ActiveTasks {
		if t == nil {
			continue
		}
		if m.runner.IsRunning(ctx, t.SessionName) {
			m.active[key] = t
			continue
		}
		taskLog.Info("task_dropped_on_load", "project", t.Project, "session", t.SessionName)
	}
	for key, q := range snap.Queues {
		if len(q) > 0 {
			m.queues[key] = q
		}
	}
	taskLog.Debug("task_state_loaded", "active", len(m.active), "queues", len(m.queues))
}

func pathKey(p string) string {
	return filepath.Clean(p)
}

// save snapshots state under the lock and writes it without the lock.
func (m *Manager) save() {
	m.mu.Lock()
	m.seq++
	snap := &snapshot{
		ActiveTasks: make(map[string]*Task, len(m.active)),
		Queues:      make(map[string][]QueuedTask, len(m.queues)),
		seq:         m.seq,
	}
	for k, t := range m.active {
		c := *t
		snap.ActiveTasks[k] = &c
	}
	for k, q := range m.queues {
		if len(q) == 0 {
			continue
		}
		snap.Queues[k] = append([]QueuedTask(nil), q...)
	}
	m.mu.Unlock()

	if err := m.store.Save(snap); err != nil {
		taskLog.Error("task_state_save_failed", "path", m.store.Path(), "error", err)
	}
}

// StartTask launches the loop now, or queues the request when the project
// already has a task.
func (m *Manager) StartTask(ctx context.Context, req StartRequest) StartResult {
	if req.Project == "" || req.ProjectPath == "" {
		return StartResult{Code: CodeInvalid, Message: "Project is required"}
	}
	if req.Mode != ModePlan && req.Mode != ModeBuild {
		return StartResult{Code: CodeInvalid, Message: fmt.Sprintf("Invalid mode %q", req.Mode)}
	}
	if req.Iterations <= 0 {
		return StartResult{Code: CodeInvalid, Message: "Iterations must be positive"}
	}
	key := pathKey(req.ProjectPath)
	req.ProjectPath = key

	alive := m.runner.IsRunning(ctx, SessionName(req.Project))

	m.mu.Lock()
	// A dead but unarchived task, or an earlier queued request, keeps the
	// project busy until the next poll so FIFO order holds.
	busy := alive || m.active[key] != nil || m.launching[key] || len(m.queues[key]) > 0
	if busy {
		q := m.queues[key]
		if len(q) >= m.opts.MaxQueueSize {
			m.mu.Unlock()
			return StartResult{
				Code:    CodeQueueFull,
				Message: fmt.Sprintf("Queue full (%d tasks)", m.opts.MaxQueueSize),
			}
		}
		qt := QueuedTask{
			ID:          newID(),
			Project:     req.Project,
			ProjectPath: key,
			Mode:        req.Mode,
			Iterations:  req.Iterations,
			Idea:        req.Idea,
			QueuedAt:    m.opts.Now(),
		}
		m.queues[key] = append(q, qt)
		pos := len(m.queues[key])
		m.mu.Unlock()

		m.save()
		taskLog.Info("task_queued", "project", req.Project, "id", qt.ID, "position", pos)
		return StartResult{
			OK:       true,
			Code:     CodeQueued,
			Message:  fmt.Sprintf("Queued #%d", pos),
			Queued:   &qt,
			Position: pos,
		}
	}
	m.launching[key] = true
	m.mu.Unlock()

	t, err := m.launch(ctx, req)

	m.mu.Lock()
	delete(m.launching, key)
	if err == nil {
		m.active[key] = t
	}
	m.mu.Unlock()

	if err != nil {
		var le *launchError
		if errors.As(err, &le) {
			return StartResult{Code: le.code, Message: le.msg}
		}
		return StartResult{Code: CodeLaunchFailed, Message: err.Error()}
	}
	m.save()
	c := *t
	return StartResult{
		OK:      true,
		Code:    CodeStarted,
		Message: fmt.Sprintf("Started %s (%d iterations)", t.Mode, t.Iterations),
		Task:    &c,
	}
}

// launchError carries the user-facing message for a failed launch.
type launchError struct {
	code StartCode
	msg  string
}

func (e *launchError) Error() string { return e.msg }

// launch checks disk space, records the baseline commit and starts the loop
// session. The caller must have reserved the project in m.launching.
func (m *Manager) launch(ctx context.Context, req StartRequest) (*Task, error) {
	if m.opts.MinDiskMB > 0 {
		ok, avail, err := m.opts.DiskSpace(req.ProjectPath, m.opts.MinDiskMB)
		if err != nil {
			taskLog.Warn("task_disk_check_failed", "project", req.Project, "error", err)
			return nil, &launchError{
				code: CodeLaunchFailed,
				msg:  fmt.Sprintf("Cannot check disk space for %s: %v", req.ProjectPath, err),
			}
		}
		if !ok {
			taskLog.Warn("task_disk_low", "project", req.Project, "available_mb", int(avail))
			return nil, &launchError{
				code: CodeDiskLow,
				msg: fmt.Sprintf("Disk space low - %d MB free (minimum: %d MB). Cannot start task.",
					int(avail), m.opts.MinDiskMB),
			}
		}
	}

	startCommit, err := m.opts.CommitHash(ctx, req.ProjectPath)
	if err != nil {
		taskLog.Debug("task_no_baseline", "project", req.Project, "error", err)
		startCommit = ""
	}

	session := SessionName(req.Project)
	script := resolveLoopScript(m.opts.LoopScript, req.ProjectPath)
	command := LoopCommand(script, req.Mode, req.Iterations, req.Idea)
	if err := m.runner.Start(ctx, session, req.ProjectPath, command); err != nil {
		taskLog.Error("task_launch_failed", "project", req.Project, "error", err)
		return nil, &launchError{code: CodeLaunchFailed, msg: fmt.Sprintf("Failed to start: %v", err)}
	}

	t := &Task{
		Project:     req.Project,
		ProjectPath: req.ProjectPath,
		Mode:        req.Mode,
		Iterations:  req.Iterations,
		Idea:        req.Idea,
		SessionName: session,
		StartCommit: startCommit,
		StartedAt:   m.opts.Now(),
		Status:      StatusRunning,
	}
	taskLog.Info("task_started",
		"project", t.Project,
		"mode", string(t.Mode),
		"iterations", t.Iterations,
		"start_commit", t.StartCommit)
	return t, nil
}

// GetTask returns a copy of the project's task if its session is alive.
// It never archives.
func (m *Manager) GetTask(ctx context.Context, projectPath string) *Task {
	m.mu.Lock()
	t := m.active[pathKey(projectPath)]
	var c Task
	if t != nil {
		c = *t
	}
	m.mu.Unlock()

	if t == nil || !m.runner.IsRunning(ctx, c.SessionName) {
		return nil
	}
	return &c
}

// CheckRunning reports whether the project has a live task.
func (m *Manager) CheckRunning(ctx context.Context, projectPath string) bool {
	return m.GetTask(ctx, projectPath) != nil
}

// ListActive returns live tasks sorted by project name.
func (m *Manager) ListActive(ctx context.Context) []Task {
	var out []Task
	for _, t := range m.snapshotActive() {
		if m.runner.IsRunning(ctx, t.SessionName) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

func (m *Manager) snapshotActive() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, *t)
	}
	return out
}

// CurrentIteration reads the task's progress marker.
func (m *Manager) CurrentIteration(t Task) (int, bool) {
	return ReadIteration(t.ProjectPath)
}

// Duration is the time since the task started, formatted for humans.
func (m *Manager) Duration(t Task) string {
	return FormatDuration(m.opts.Now().Sub(t.StartedAt))
}

// Queue returns a copy of the project's queue in FIFO order.
func (m *Manager) Queue(projectPath string) []QueuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueuedTask(nil), m.queues[pathKey(projectPath)]...)
}

// Queues returns a copy of every non-empty queue keyed by project path.
func (m *Manager) Queues() map[string][]QueuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]QueuedTask, len(m.queues))
	for k, q := range m.queues {
		if len(q) > 0 {
			out[k] = append([]QueuedTask(nil), q...)
		}
	}
	return out
}

// CancelQueuedTask removes one queued request by id.
func (m *Manager) CancelQueuedTask(projectPath, id string) error {
	key := pathKey(projectPath)
	m.mu.Lock()
	q := m.queues[key]
	idx := -1
	for i := range q {
		if q[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.queues[key] = append(q[:idx:idx], q[idx+1:]...)
	if len(m.queues[key]) == 0 {
		delete(m.queues, key)
	}
	m.mu.Unlock()

	m.save()
	taskLog.Info("task_queue_cancelled", "path", key, "id", id)
	return nil
}

// History returns archived tasks newest first, optionally for one project.
func (m *Manager) History(project string) []HistoryEntry {
	return m.history.List(project)
}

// ProcessCompleted is the periodic poll step. It expires stale queue
// entries, archives tasks whose session ended, and promotes the next queued
// task for freed and orphaned projects.
func (m *Manager) ProcessCompleted(ctx context.Context) ([]Completion, []QueuedTask) {
	var (
		results []Completion
		changed bool
	)

	expired := m.expireQueued()
	if len(expired) > 0 {
		changed = true
	}

	for _, t := range m.snapshotActive() {
		if m.runner.IsRunning(ctx, t.SessionName) {
			continue
		}
		key := pathKey(t.ProjectPath)

		m.mu.Lock()
		cur := m.active[key]
		if cur == nil || cur.SessionName != t.SessionName || !cur.StartedAt.Equal(t.StartedAt) {
			m.mu.Unlock()
			continue
		}
		finished := *cur
		delete(m.active, key)
		m.mu.Unlock()
		changed = true

		entry := archiveEntry(&finished, m.opts.Now())
		finished.Status = entry.Status
		if err := m.history.Append(entry); err != nil {
			taskLog.Error("task_archive_failed", "project", finished.Project, "error", err)
		}
		taskLog.Info("task_completed",
			"project", finished.Project,
			"mode", string(finished.Mode),
			"status", string(finished.Status),
			"iterations", entry.IterationsCompleted)

		next := m.promoteNext(ctx, key)
		results = append(results, Completion{Completed: &finished, Next: next})
	}

	for _, key := range m.orphanedQueues() {
		m.mu.Lock()
		q := m.queues[key]
		if len(q) == 0 || m.active[key] != nil || m.launching[key] {
			m.mu.Unlock()
			continue
		}
		project := q[0].Project
		m.mu.Unlock()

		if m.runner.IsRunning(ctx, SessionName(project)) {
			continue
		}
		if next := m.promoteNext(ctx, key); next != nil {
			changed = true
			results = append(results, Completion{Next: next})
		}
	}

	if changed {
		m.save()
	}
	return results, expired
}

// expireQueued drops queue entries older than the TTL.
func (m *Manager) expireQueued() []QueuedTask {
	now := m.opts.Now()
	var expired []QueuedTask

	m.mu.Lock()
	for key, q := range m.queues {
		kept := q[:0]
		for _, qt := range q {
			if now.Sub(qt.QueuedAt) > m.opts.QueueTTL {
				expired = append(expired, qt)
				continue
			}
			kept = append(kept, qt)
		}
		if len(kept) == 0 {
			delete(m.queues, key)
		} else {
			m.queues[key] = kept
		}
	}
	m.mu.Unlock()

	for _, qt := range expired {
		taskLog.Info("task_queue_expired", "project", qt.Project, "id", qt.ID)
	}
	return expired
}

func (m *Manager) orphanedQueues() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key, q := range m.queues {
		if len(q) > 0 && m.active[key] == nil && !m.launching[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// promoteNext pops the head of the queue and launches it. On failure the
// entry goes back to the front of the queue.
func (m *Manager) promoteNext(ctx context.Context, key string) *Task {
	m.mu.Lock()
	q := m.queues[key]
	if len(q) == 0 || m.launching[key] {
		m.mu.Unlock()
		return nil
	}
	head := q[0]
	if len(q) == 1 {
		delete(m.queues, key)
	} else {
		m.queues[key] = append([]QueuedTask(nil), q[1:]...)
	}
	m.launching[key] = true
	m.mu.Unlock()

	t, err := m.launch(ctx, StartRequest{
		Project:     head.Project,
		ProjectPath: head.ProjectPath,
		Mode:        head.Mode,
		Iterations:  head.Iterations,
		Idea:        head.Idea,
	})

	m.mu.Lock()
	delete(m.launching, key)
	if err != nil {
		m.queues[key] = append([]QueuedTask{head}, m.queues[key]...)
		m.mu.Unlock()
		taskLog.Warn("task_promotion_failed", "project", head.Project, "id", head.ID, "error", err)
		return nil
	}
	m.active[key] = t
	c := *t
	m.mu.Unlock()

	taskLog.Info("task_promoted", "project", head.Project, "id", head.ID)
	return &c
}

func newID() string {
	return uuid.NewString()[:8]
}
