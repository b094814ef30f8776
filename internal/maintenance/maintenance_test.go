package maintenance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, root, project, name string, size int, age time.Duration, now time.Time) string {
	t.Helper()
	dir := filepath.Join(root, project, "loop", "logs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestRotateLogsByAge(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	old := writeLog(t, root, "alpha", "old.jsonl", 100, 10*24*time.Hour, now)
	fresh := writeLog(t, root, "alpha", "fresh.jsonl", 100, time.Hour, now)
	other := writeLog(t, root, "alpha", "notes.txt", 100, 30*24*time.Hour, now)

	res := RotateLogs(root, 7, 500, now)
	assert.Equal(t, Result{Deleted: 1, FreedBytes: 100}, res)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestRotateLogsBySizeOldestFirst(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	mb := 1024 * 1024
	oldest := writeLog(t, root, "alpha", "a.jsonl", mb, 3*time.Hour, now)
	middle := writeLog(t, root, "beta", "b.jsonl", mb, 2*time.Hour, now)
	newest := writeLog(t, root, "beta", "c.jsonl", mb, time.Hour, now)

	res := RotateLogs(root, 7, 2, now)
	assert.Equal(t, 1, res.Deleted)
	assert.NoFileExists(t, oldest)
	assert.FileExists(t, middle)
	assert.FileExists(t, newest)
}

func TestRotateLogsSkipsHiddenDirs(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	hidden := writeLog(t, root, ".cache", "x.jsonl", 10, 30*24*time.Hour, now)
	res := RotateLogs(root, 7, 500, now)
	assert.Zero(t, res.Deleted)
	assert.FileExists(t, hidden)
}

func TestCleanupBrainstormFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".brainstorm")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	keep := filepath.Join(dir, "brainstorm_111_aaaa1111.jsonl")
	orphan := filepath.Join(dir, "brainstorm_222_bbbb2222.jsonl")
	odd := filepath.Join(dir, "weird.jsonl")
	for _, p := range []string{keep, orphan, odd} {
		require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, ".brainstorm_sessions.json"),
		[]byte(`[{"chat_id": 111, "project": "alpha"}]`), 0o644))

	res := CleanupBrainstormFiles(root, nil)
	assert.Equal(t, 2, res.Deleted)
	assert.FileExists(t, keep)
	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, odd)
}

func TestCleanupBrainstormFilesCorruptSnapshot(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".brainstorm")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f := filepath.Join(dir, "brainstorm_111_aaaa1111.jsonl")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".brainstorm_sessions.json"), []byte("{broken"), 0o644))

	res := CleanupBrainstormFiles(root, nil)
	assert.Equal(t, 1, res.Deleted)
	assert.NoFileExists(t, f)
}

func TestCleanupBrainstormFilesSkipsLiveAgents(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".brainstorm")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	running := filepath.Join(dir, "brainstorm_-100123_cccc3333.jsonl")
	dead := filepath.Join(dir, "brainstorm_555_dddd4444.jsonl")
	for _, p := range []string{running, dead} {
		require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0o644))
	}

	res := CleanupBrainstormFiles(root, func(chatID int64) bool { return chatID == -100123 })
	assert.Equal(t, 1, res.Deleted)
	assert.FileExists(t, running)
	assert.NoFileExists(t, dead)
}

func TestCleanupBrainstormFilesNoDir(t *testing.T) {
	assert.Equal(t, Result{}, CleanupBrainstormFiles(t.TempDir(), nil))
}

func TestCheckDiskSpace(t *testing.T) {
	ok, avail, err := CheckDiskSpace(t.TempDir(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, avail, 0.0)

	ok, _, err = CheckDiskSpace(t.TempDir(), 1<<40)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = CheckDiskSpace(filepath.Join(t.TempDir(), "missing", "dir"), 1)
	assert.Error(t, err)
}
