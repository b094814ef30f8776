// Package task runs the external loop script for a project in a tmux session,
// serializes requests per project through a FIFO queue, and archives
// finished runs.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sjoeboo/loopbot/internal/tmux"
)

// Mode selects what the loop script does.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeBuild Mode = "build"
)

// ParseMode accepts "plan" or "build" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlan:
		return ModePlan, nil
	case ModeBuild:
		return ModeBuild, nil
	}
	return "", fmt.Errorf("invalid mode %q (want plan or build)", s)
}

// Title returns "Plan" or "Build".
func (m Mode) Title() string {
	if m == "" {
		return ""
	}
	return strings.ToUpper(string(m[:1])) + string(m[1:])
}

// Status is a task's lifecycle state. Tasks are running until archived.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Task is one in-flight loop run. At most one exists per project path.
type Task struct {
	Project               string    `json:"project"`
	ProjectPath           string    `json:"project_path"`
	Mode                  Mode      `json:"mode"`
	Iterations            int       `json:"iterations"`
	Idea                  string    `json:"idea,omitempty"`
	SessionName           string    `json:"session_name"`
	StartCommit           string    `json:"start_commit,omitempty"`
	LastReportedIteration int       `json:"last_reported_iteration"`
	ProgressMessageID     string    `json:"progress_message_id,omitempty"`
	StaleWarned           bool      `json:"stale_warned"`
	StartedAt             time.Time `json:"started_at"`
	Status                Status    `json:"status"`
}

// QueuedTask is a start request waiting for its project to free up.
type QueuedTask struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	ProjectPath string    `json:"project_path"`
	Mode        Mode      `json:"mode"`
	Iterations  int       `json:"iterations"`
	Idea        string    `json:"idea,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
}

// SessionName returns the tmux session used for a project's loop.
func SessionName(project string) string {
	return tmux.SafeName("loop-" + project)
}

// ProgressFile is the marker the loop script rewrites with the current
// iteration number.
func ProgressFile(projectPath string) string {
	return filepath.Join(projectPath, "loop", "logs", ".progress")
}

// LogDir is where the loop script writes its JSONL logs.
func LogDir(projectPath string) string {
	return filepath.Join(projectPath, "loop", "logs")
}

// ReadIteration returns the iteration recorded in the project's progress
// marker. ok is false when the file is missing or not a number.
func ReadIteration(projectPath string) (n int, ok bool) {
	data, err := os.ReadFile(ProgressFile(projectPath))
	if err != nil {
		return 0, false
	}
	n, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolveLoopScript prefers the shared script and falls back to the
// project's own loop/loop.sh.
func resolveLoopScript(shared, projectPath string) string {
	if shared != "" && filepath.IsAbs(shared) {
		if _, err := os.Stat(shared); err == nil {
			return shared
		}
	}
	local := filepath.Join(projectPath, "loop", "loop.sh")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return shared
}

// LoopCommand builds the shell command line for one loop run.
func LoopCommand(script string, mode Mode, iterations int, idea string) string {
	parts := []string{tmux.Quote(script), "-a", "-i", strconv.Itoa(iterations)}
	if mode == ModePlan {
		parts = append(parts, "-p")
	}
	if idea != "" {
		parts = append(parts, "-I", tmux.Quote(idea))
	}
	return strings.Join(parts, " ")
}

// FormatDuration renders elapsed time as "3m 4s" or "42s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	if m := secs / 60; m > 0 {
		return fmt.Sprintf("%dm %ds", m, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
