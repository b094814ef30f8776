package notify

import (
	"fmt"
	"strings"

	"github.com/sjoeboo/loopbot/internal/git"
	"github.com/sjoeboo/loopbot/internal/maintenance"
	"github.com/sjoeboo/loopbot/internal/task"
)

func modeIcon(m task.Mode) string {
	if m == task.ModePlan {
		return "◇"
	}
	return "■"
}

func queueIcon(m task.Mode) string {
	if m == task.ModePlan {
		return "≡"
	}
	return "■"
}

// Summary is everything shown when a task finishes.
type Summary struct {
	Task     task.Task
	Duration string
	Diff     *git.DiffStats
	Commits  []string
	// PlanDone and PlanTotal come from the implementation plan checkboxes.
	// HasPlan is false when the project has no plan file.
	PlanDone, PlanTotal int
	HasPlan             bool
	Next                *task.Task
}

// FormatCompletion renders a completion summary, with a "Next" line when a
// queued task was promoted in its place.
func FormatCompletion(s Summary) string {
	var b strings.Builder
	t := s.Task
	fmt.Fprintf(&b, "%s *%s* — %s completed\n\n", modeIcon(t.Mode), t.Project, t.Mode.Title())
	fmt.Fprintf(&b, "Iterations: %d\n", t.Iterations)
	fmt.Fprintf(&b, "Time: %s\n", s.Duration)

	if s.Diff != nil {
		fmt.Fprintf(&b, "\nΔ *Changes:*\n  Files: %d\n  Lines: +%d / -%d\n",
			s.Diff.FilesChanged, s.Diff.Insertions, s.Diff.Deletions)
	}
	if len(s.Commits) > 0 {
		b.WriteString("\n→ *Commits:*\n")
		for _, c := range s.Commits {
			fmt.Fprintf(&b, "  `%s`\n", c)
		}
	}
	if s.HasPlan {
		pct := 0
		if s.PlanTotal > 0 {
			pct = s.PlanDone * 100 / s.PlanTotal
		}
		fmt.Fprintf(&b, "\n◇ *Plan:* %d/%d (%d%%)\n  %s\n", s.PlanDone, s.PlanTotal, pct, ProgressBar(pct))
	}
	if n := s.Next; n != nil {
		fmt.Fprintf(&b, "\n▶ *Next:* %s %s - %s • %d iterations",
			queueIcon(n.Mode), n.Project, n.Mode.Title(), n.Iterations)
	}
	return b.String()
}

// ProgressBar draws pct as ten cells.
func ProgressBar(pct int) string {
	pct = max(0, min(pct, 100))
	filled := pct / 10
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

// FormatStartedFromQueue announces a promotion that had no completion to
// ride along with.
func FormatStartedFromQueue(t task.Task) string {
	return fmt.Sprintf("▶ *Started from queue:*\n%s %s - %s • %d iterations",
		queueIcon(t.Mode), t.Project, t.Mode.Title(), t.Iterations)
}

// FormatProgress is the in-place progress line of a running task.
func FormatProgress(t task.Task, current int, elapsed string) string {
	return fmt.Sprintf("%s *%s* — Iteration %d/%d (%s)", modeIcon(t.Mode), t.Project, current, t.Iterations, elapsed)
}

// FormatStale warns that a task's progress marker stopped moving.
func FormatStale(project string, minutes int) string {
	return fmt.Sprintf("! *%s* — no progress for %d min", project, minutes)
}

// FormatQueueExpired reports a queued task dropped by the TTL.
func FormatQueueExpired(q task.QueuedTask, minutes int) string {
	return fmt.Sprintf("⏰ *Queue expired* — %s %s (%d iter) removed after %d min in queue",
		q.Project, q.Mode.Title(), q.Iterations, minutes)
}

// FormatStartResult renders the reply to a start request.
func FormatStartResult(r task.StartResult) string {
	switch r.Code {
	case task.CodeStarted:
		t := r.Task
		return fmt.Sprintf("%s *Task started*\n\nProject: `%s`\nMode: %s\nIterations: %d",
			modeIcon(t.Mode), t.Project, t.Mode.Title(), t.Iterations)
	case task.CodeQueued:
		return fmt.Sprintf("≡ *%s*\n\nProject: `%s`", r.Message, r.Queued.Project)
	case task.CodeDiskLow:
		return "⚠ *" + r.Message + "*"
	}
	return "✗ *Error*\n\n" + r.Message
}

// FormatMaintenance summarizes a cleanup pass.
func FormatMaintenance(r maintenance.Result) string {
	return fmt.Sprintf("✓ Log rotation complete: %d files removed, %.1f MB freed",
		r.Deleted, float64(r.FreedBytes)/(1024*1024))
}
