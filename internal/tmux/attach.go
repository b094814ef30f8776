package tmux

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Attach connects the current terminal to a running session until the user
// detaches or ctx is cancelled.
func (t *Tmux) Attach(ctx context.Context, name string) error {
	if !t.IsRunning(ctx, name) {
		return fmt.Errorf("session %s is not running", name)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("attach requires an interactive terminal")
	}

	cmd := exec.CommandContext(ctx, "tmux", t.AttachArgs(name)...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, _ = io.Copy(os.Stdout, ptmx)

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		runnerLog.Debug("attach_exit", "session", name, "error", err)
	}
	return nil
}
