// Package tmux runs commands as detached, named tmux sessions that can be
// polled for liveness independently of the process that started them.
package tmux

import (
	"context"
	"fmt"
	"strings"

	"github.com/sjoeboo/loopbot/internal/logging"
)

var runnerLog = logging.ForComponent(logging.CompRunner)

// Runner is the process backend used by the task and brainstorm managers.
type Runner interface {
	// IsRunning reports whether a session with this name exists.
	// Backend failures and timeouts count as not running.
	IsRunning(ctx context.Context, name string) bool
	// Start launches command in workdir under a new session called name.
	// It returns as soon as the session exists; it never waits for command.
	Start(ctx context.Context, name, workdir, command string) error
	// Kill terminates the session. Errors are swallowed.
	Kill(ctx context.Context, name string)
}

// SafeName maps a session name to the one tmux will actually create.
// tmux silently replaces '.' and ':' with '_', so names must be
// sanitized before they are used for lookups.
func SafeName(name string) string {
	return strings.NewReplacer(".", "_", ":", "_").Replace(name)
}

// Tmux is the Runner backed by the tmux binary.
type Tmux struct {
	exec   Exec
	socket string
}

// New returns a Runner using the given executor. An empty socket uses the
// default tmux server.
func New(e Exec, socket string) *Tmux {
	if e == nil {
		e = &RealExec{}
	}
	return &Tmux{exec: e, socket: strings.TrimSpace(socket)}
}

func (t *Tmux) withSocket(args ...string) []string {
	if t.socket == "" {
		return args
	}
	return append([]string{"-L", t.socket}, args...)
}

func (t *Tmux) IsRunning(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	// "=" prefix forces an exact match instead of tmux's prefix matching.
	err := t.exec.Run(ctx, "tmux", t.withSocket("has-session", "-t", "="+name)...)
	return err == nil
}

func (t *Tmux) Start(ctx context.Context, name, workdir, command string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	args := []string{"new-session", "-d", "-s", name}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}
	args = append(args, command)

	if err := t.exec.Run(ctx, "tmux", t.withSocket(args...)...); err != nil {
		runnerLog.Warn("session_start_failed", "session", name, "error", err)
		return fmt.Errorf("start tmux session %s: %w", name, err)
	}
	runnerLog.Debug("session_started", "session", name, "workdir", workdir)
	return nil
}

func (t *Tmux) Kill(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := t.exec.Run(ctx, "tmux", t.withSocket("kill-session", "-t", "="+name)...); err != nil {
		runnerLog.Debug("session_kill_ignored", "session", name, "error", err)
	}
}

// AttachArgs returns the tmux arguments that attach a terminal to name.
func (t *Tmux) AttachArgs(name string) []string {
	return t.withSocket("attach-session", "-t", "="+name)
}
