package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCallTimeout bounds every backend call. It is unrelated to how long
// the launched command itself may run.
const DefaultCallTimeout = 5 * time.Second

// Exec runs external commands. Tests substitute a fake.
type Exec interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Run(ctx context.Context, name string, args ...string) error
}

// RealExec runs commands through os/exec with a per-call timeout.
type RealExec struct {
	Timeout time.Duration
}

func (r *RealExec) timeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return DefaultCallTimeout
	}
	return r.Timeout
}

func (r *RealExec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, fmt.Errorf("%s %s: timed out after %s", name, strings.Join(args, " "), r.timeout())
		}
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func (r *RealExec) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

// Quote single-quotes s for a POSIX shell command line.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
