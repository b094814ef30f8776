package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjoeboo/loopbot/internal/task"
)

func makeProject(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(task.LogDir(p), 0o755))
	return p
}

func TestWatcherReportsProgressWrites(t *testing.T) {
	project := makeProject(t)
	events := make(chan string, 10)

	w, err := New(func(p string) { events <- p }, 10*time.Millisecond)
	require.NoError(t, err)
	w.Sync([]string{project})
	require.Equal(t, 1, w.Watched())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Other files in the log dir are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(task.LogDir(project), "run.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(task.ProgressFile(project), []byte("1"), 0o644))

	select {
	case got := <-events:
		assert.Equal(t, project, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for progress event")
	}
}

func TestWatcherSync(t *testing.T) {
	a := makeProject(t)
	b := makeProject(t)
	missing := filepath.Join(t.TempDir(), "nolog")

	w, err := New(func(string) {}, 0)
	require.NoError(t, err)
	defer w.Close()

	w.Sync([]string{a, b, missing})
	assert.Equal(t, 2, w.Watched())

	w.Sync([]string{b})
	assert.Equal(t, 1, w.Watched())

	require.NoError(t, os.MkdirAll(task.LogDir(missing), 0o755))
	w.Sync([]string{b, missing})
	assert.Equal(t, 2, w.Watched())
}

func TestWatcherCoalescesBursts(t *testing.T) {
	project := makeProject(t)
	calls := make(chan string, 100)

	w, err := New(func(p string) { calls <- p }, time.Hour)
	require.NoError(t, err)
	w.Sync([]string{project})

	dir := task.LogDir(project)
	for i := 0; i < 5; i++ {
		w.trigger(dir)
	}
	w.trigger(filepath.Join(t.TempDir(), "unknown"))
	assert.Len(t, calls, 1)
	require.NoError(t, w.Close())
}
