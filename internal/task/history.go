package task

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sjoeboo/loopbot/internal/jsonfile"
)

// HistoryEntry is the archived record of a finished task.
type HistoryEntry struct {
	Project             string    `json:"project"`
	Mode                Mode      `json:"mode"`
	IterationsCompleted int       `json:"iterations_completed"`
	IterationsTotal     int       `json:"iterations_total"`
	Status              Status    `json:"status"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	LogDir              string    `json:"log_dir"`
}

// History is the append-only task log, a JSON array on disk.
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
			storeLog.Warn("task_history_unreadable", "path", h.path, "error", err)
		}
		return nil
	}
	return entries
}

// Append adds one entry.
func (h *History) Append(e HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := append(h.readAll(), e)
	return jsonfile.WriteAtomic(h.path, entries)
}

// List returns entries newest first, limited to project when it is non-empty.
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

// archiveEntry converts a finished task into its history record. The
// completed count is the last reported iteration, raised to the marker
// value when one is readable. A run that never reported counts as zero.
func archiveEntry(t *Task, finished time.Time) HistoryEntry {
	completed := t.LastReportedIteration
	if n, ok := ReadIteration(t.ProjectPath); ok && n > completed {
		completed = n
	}
	status := StatusFail
	if completed >= t.Iterations {
		status = StatusSuccess
	}
	return HistoryEntry{
		Project:             t.Project,
		Mode:                t.Mode,
		IterationsCompleted: completed,
		IterationsTotal:     t.Iterations,
		Status:              status,
		StartedAt:           t.StartedAt,
		FinishedAt:          finished,
		LogDir:              LogDir(t.ProjectPath),
	}
}
