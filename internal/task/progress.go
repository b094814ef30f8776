package task

import (
	"context"
	"os"
	"time"
)

// ProgressKind distinguishes progress events.
type ProgressKind string

const (
	// ProgressIteration means the loop reached a new iteration.
	ProgressIteration ProgressKind = "progress"
	// ProgressStale means the marker has not changed for the stale threshold.
	ProgressStale ProgressKind = "stale"
)

// ProgressEvent reports a change observed on an active task.
type ProgressEvent struct {
	Kind      ProgressKind  `json:"kind"`
	Task      Task          `json:"task"`
	Iteration int           `json:"iteration,omitempty"`
	Elapsed   string        `json:"elapsed"`
	StaleFor  time.Duration `json:"stale_for,omitempty"`
}

// CheckProgress reads every active task's progress marker. It emits at most
// one stale warning per task until progress resumes, and one iteration
// event per observed iteration change.
func (m *Manager) CheckProgress(ctx context.Context) []ProgressEvent {
	var (
		events  []ProgressEvent
		changed bool
	)
	now := m.opts.Now()

	for _, t := range m.snapshotActive() {
		current, ok := ReadIteration(t.ProjectPath)
		if !ok {
			continue
		}
		key := pathKey(t.ProjectPath)

		var staleFor time.Duration
		if info, err := os.Stat(ProgressFile(t.ProjectPath)); err == nil {
			staleFor = now.Sub(info.ModTime())
		}

		if staleFor > m.opts.StaleThreshold && !t.StaleWarned && m.runner.IsRunning(ctx, t.SessionName) {
			if updated, ok := m.updateActive(key, t, func(cur *Task) { cur.StaleWarned = true }); ok {
				changed = true
				events = append(events, ProgressEvent{
					Kind:     ProgressStale,
					Task:     updated,
					Elapsed:  m.Duration(updated),
					StaleFor: staleFor,
				})
				taskLog.Warn("task_stale", "project", t.Project, "stale_for", staleFor.String())
			}
		}

		if current == t.LastReportedIteration {
			continue
		}
		updated, ok := m.updateActive(key, t, func(cur *Task) {
			cur.LastReportedIteration = current
			cur.StaleWarned = false
		})
		if !ok {
			continue
		}
		changed = true
		events = append(events, ProgressEvent{
			Kind:      ProgressIteration,
			Task:      updated,
			Iteration: current,
			Elapsed:   m.Duration(updated),
		})
		taskLog.Debug("task_progress", "project", t.Project, "iteration", current, "of", t.Iterations)
	}

	if changed {
		m.save()
	}
	return events
}

// updateActive applies fn to the live record if it is still the task seen
// in the snapshot.
func (m *Manager) updateActive(key string, seen Task, fn func(*Task)) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.active[key]
	if cur == nil || cur.SessionName != seen.SessionName || !cur.StartedAt.Equal(seen.StartedAt) {
		return Task{}, false
	}
	fn(cur)
	return *cur, true
}

// SetProgressMessageID records the notifier's handle for the task's
// progress message so later updates edit it in place.
func (m *Manager) SetProgressMessageID(projectPath, id string) {
	key := pathKey(projectPath)
	m.mu.Lock()
	cur := m.active[key]
	if cur == nil || cur.ProgressMessageID == id {
		m.mu.Unlock()
		return
	}
	cur.ProgressMessageID = id
	m.mu.Unlock()
	m.save()
}

// WatchedPaths returns the project paths of active tasks.
func (m *Manager) WatchedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for k := range m.active {
		out = append(out, k)
	}
	return out
}
