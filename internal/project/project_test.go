package project

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkProject(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	return dir
}

func TestListSkipsNonRepos(t *testing.T) {
	root := t.TempDir()
	mkProject(t, root, "beta")
	alpha := mkProject(t, root, "alpha")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "plain"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".brainstorm", ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(alpha, "loop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(alpha, "loop", "loop.sh"), []byte("#!/bin/sh\n"), 0o755))

	projects, err := List(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.True(t, projects[0].HasLoop)
	assert.Equal(t, "beta", projects[1].Name)
	assert.False(t, projects[1].HasLoop)
}

func TestListMissingRoot(t *testing.T) {
	projects, err := List(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestWorktreeDetection(t *testing.T) {
	root := t.TempDir()
	wt := filepath.Join(root, "app-feature")
	require.NoError(t, os.MkdirAll(wt, 0o755))
	gitFile := "gitdir: /home/dev/projects/app/.git/worktrees/app-feature\n"
	require.NoError(t, os.WriteFile(filepath.Join(wt, ".git"), []byte(gitFile), 0o644))

	projects, err := List(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.True(t, projects[0].IsWorktree)
	assert.Equal(t, "app", projects[0].ParentRepo)
}

func TestParseGitdirRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".git")
	require.NoError(t, os.WriteFile(path, []byte("nonsense"), 0o644))
	_, ok := parseGitdir(path)
	assert.False(t, ok)
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	mkProject(t, root, "webapp")
	mkProject(t, root, "webapi")
	mkProject(t, root, "tooling")
	ctx := context.Background()

	p, err := Find(ctx, root, "tooling")
	require.NoError(t, err)
	assert.Equal(t, "tooling", p.Name)

	p, err = Find(ctx, root, "tlg")
	require.NoError(t, err)
	assert.Equal(t, "tooling", p.Name)

	_, err = Find(ctx, root, "web")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.ElementsMatch(t, []string{"webapp", "webapi"}, nf.Suggestions)

	_, err = Find(ctx, root, "zzz")
	require.True(t, errors.As(err, &nf))
	assert.Empty(t, nf.Suggestions)
}

func TestCreateWorktree(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "app")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, args := range [][]string{
		{"init", "--initial-branch=main"},
		{"-c", "user.email=t@t", "-c", "user.name=t", "commit", "--allow-empty", "-m", "init"},
	} {
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		require.NoError(t, err, string(out))
	}

	msg, err := CreateWorktree(context.Background(), root, &Project{Name: "app", Path: dir}, "feature")
	require.NoError(t, err)
	assert.Equal(t, "Created app-feature on branch feature", msg)

	_, err = CreateWorktree(context.Background(), root, &Project{Name: "app", Path: dir}, "feature")
	assert.ErrorContains(t, err, "already exists")
}
