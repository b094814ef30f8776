// Package project discovers the git working copies under the projects root.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/sjoeboo/loopbot/internal/git"
)

// Project is one git repository or worktree directly under the root.
type Project struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	IsWorktree bool   `json:"is_worktree"`
	ParentRepo string `json:"parent_repo,omitempty"`
	HasLoop    bool   `json:"has_loop"`
}

// List returns the projects under root sorted by name. A missing root
// yields an empty list.
func List(ctx context.Context, root string) ([]Project, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects root: %w", err)
	}

	var projects []Project
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err != nil {
			continue
		}

		p := Project{Name: e.Name(), Path: dir}
		if parent, ok := parseGitdir(gitPath); ok {
			p.IsWorktree = true
			p.ParentRepo = parent
		}
		if branch, err := git.CurrentBranch(ctx, dir); err == nil {
			p.Branch = branch
		} else {
			p.Branch = "unknown"
		}
		if _, err := os.Stat(filepath.Join(dir, "loop", "loop.sh")); err == nil {
			p.HasLoop = true
		}
		projects = append(projects, p)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// parseGitdir reads a worktree's .git file ("gitdir: <parent>/.git/worktrees/<name>")
// and returns the parent repository's directory name.
func parseGitdir(gitPath string) (string, bool) {
	info, err := os.Stat(gitPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if !strings.HasPrefix(content, "gitdir:") {
		return "", false
	}
	gitdir := strings.TrimSpace(strings.TrimPrefix(content, "gitdir:"))
	parts := strings.Split(filepath.ToSlash(gitdir), "/")
	for i, part := range parts {
		if part == ".git" && i > 0 && parts[i-1] != "" {
			return parts[i-1], true
		}
	}
	return "", false
}

// NotFoundError carries close matches for a project name that does not exist.
type NotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("project %q not found", e.Name)
	}
	return fmt.Sprintf("project %q not found (did you mean %s?)", e.Name, strings.Join(e.Suggestions, ", "))
}

type projectSource []Project

func (s projectSource) String(i int) string { return s[i].Name }
func (s projectSource) Len() int            { return len(s) }

// Find returns the project named name. When there is no exact match but
// exactly one fuzzy match, that project is returned; otherwise the error is
// a *NotFoundError listing up to three candidates.
func Find(ctx context.Context, root, name string) (*Project, error) {
	projects, err := List(ctx, root)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].Name == name {
			return &projects[i], nil
		}
	}

	matches := fuzzy.FindFrom(name, projectSource(projects))
	if len(matches) == 1 {
		return &projects[matches[0].Index], nil
	}
	nf := &NotFoundError{Name: name}
	for i, m := range matches {
		if i == 3 {
			break
		}
		nf.Suggestions = append(nf.Suggestions, m.Str)
	}
	return nil, nf
}

// CreateWorktree adds <root>/<project>-<suffix> on a new branch named suffix.
func CreateWorktree(ctx context.Context, root string, p *Project, suffix string) (string, error) {
	name := p.Name + "-" + suffix
	dest := filepath.Join(root, name)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("%s already exists", name)
	}
	if err := git.CreateWorktree(ctx, p.Path, dest, suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created %s on branch %s", name, suffix), nil
}
