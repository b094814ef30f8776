// Package git wraps the git commands loopbot uses for task baselines and
// completion summaries.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandTimeout bounds every git invocation.
const CommandTimeout = 10 * time.Second

// ErrNotGitRepo is returned when the directory is not a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// run executes git -C dir args... and returns trimmed stdout.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			msg := strings.TrimSpace(string(exitErr.Stderr))
			if msg != "" {
				return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
			}
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepo checks if the given directory is inside a git repository
func IsGitRepo(ctx context.Context, dir string) bool {
	_, err := run(ctx, dir, "rev-parse", "--git-dir")
	return err == nil
}

// CurrentBranch returns the checked out branch, or "" when detached.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	return run(ctx, dir, "branch", "--show-current")
}

// CommitHash returns the short HEAD hash. An empty string with nil error
// never happens; callers treat any error as "no baseline".
func CommitHash(ctx context.Context, dir string) (string, error) {
	hash, err := run(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", ErrNotGitRepo
	}
	return hash, nil
}

// RecentCommits returns up to max one-line commit subjects in since..HEAD,
// newest first.
func RecentCommits(ctx context.Context, dir, since string, max int) ([]string, error) {
	if max <= 0 {
		max = 5
	}
	out, err := run(ctx, dir, "log", "--oneline", fmt.Sprintf("--max-count=%d", max), since+"..HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitsBehindRemote fetches and counts upstream commits not yet in HEAD.
func CommitsBehindRemote(ctx context.Context, dir string) (int, error) {
	if _, err := run(ctx, dir, "fetch", "--quiet"); err != nil {
		return 0, err
	}
	out, err := run(ctx, dir, "rev-list", "--count", "HEAD..@{u}")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

// ValidateBranchName validates that a branch name follows git's naming rules
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return errors.New("branch name cannot have leading or trailing spaces")
	}
	if strings.Contains(name, "..") {
		return errors.New("branch name cannot contain '..'")
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return errors.New("branch name cannot start with '.' or '-'")
	}
	if strings.HasSuffix(name, ".lock") {
		return errors.New("branch name cannot end with '.lock'")
	}
	for _, char := range []string{" ", "\t", "~", "^", ":", "?", "*", "[", "\\", "/"} {
		if strings.Contains(name, char) {
			return fmt.Errorf("branch name cannot contain '%s'", char)
		}
	}
	if strings.Contains(name, "@{") || name == "@" {
		return errors.New("branch name cannot contain '@{' or be '@'")
	}
	return nil
}

// CreateWorktree adds a worktree at path on a new branch.
func CreateWorktree(ctx context.Context, repoDir, path, branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return fmt.Errorf("invalid branch name: %w", err)
	}
	if !IsGitRepo(ctx, repoDir) {
		return ErrNotGitRepo
	}
	if _, err := run(ctx, repoDir, "worktree", "add", "-b", branch, path); err != nil {
		return fmt.Errorf("failed to create worktree: %w", err)
	}
	return nil
}
