package tmux

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type recordingExec struct {
	mu     sync.Mutex
	calls  []call
	err    error
	output []byte
}

func (r *recordingExec) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
	return r.output, r.err
}

func (r *recordingExec) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

func (r *recordingExec) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestIsRunning(t *testing.T) {
	ctx := context.Background()

	ok := &recordingExec{}
	assert.True(t, New(ok, "").IsRunning(ctx, "loop-alpha"))
	assert.Equal(t, []string{"has-session", "-t", "=loop-alpha"}, ok.last().args)

	failing := &recordingExec{err: errors.New("can't find session")}
	assert.False(t, New(failing, "").IsRunning(ctx, "loop-alpha"))

	assert.False(t, New(ok, "").IsRunning(ctx, ""))
}

func TestStartBuildsNewSession(t *testing.T) {
	rec := &recordingExec{}
	runner := New(rec, "")

	require.NoError(t, runner.Start(context.Background(), "loop-alpha", "/projects/alpha", "./loop.sh -a"))
	c := rec.last()
	assert.Equal(t, "tmux", c.name)
	assert.Equal(t, []string{"new-session", "-d", "-s", "loop-alpha", "-c", "/projects/alpha", "./loop.sh -a"}, c.args)
}

func TestStartFailure(t *testing.T) {
	rec := &recordingExec{err: errors.New("duplicate session: loop-alpha")}
	err := New(rec, "").Start(context.Background(), "loop-alpha", "", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate session")

	assert.Error(t, New(&recordingExec{}, "").Start(context.Background(), "", "", "true"))
}

func TestKillSwallowsErrors(t *testing.T) {
	rec := &recordingExec{err: errors.New("no server running")}
	New(rec, "").Kill(context.Background(), "brainstorm-1")
	assert.Equal(t, []string{"kill-session", "-t", "=brainstorm-1"}, rec.last().args)
}

func TestSocketIsPrepended(t *testing.T) {
	rec := &recordingExec{}
	runner := New(rec, "loopbot-test")
	runner.IsRunning(context.Background(), "x")
	assert.Equal(t, []string{"-L", "loopbot-test", "has-session", "-t", "=x"}, rec.last().args)
	assert.Equal(t, "-L loopbot-test attach-session -t =x", strings.Join(runner.AttachArgs("x"), " "))
}

func TestRealExecTimeout(t *testing.T) {
	e := &RealExec{Timeout: 50 * time.Millisecond}
	_, err := e.Output(context.Background(), "sleep", "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRealExecIncludesOutputInError(t *testing.T) {
	e := &RealExec{}
	err := e.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFakeRunner(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	require.NoError(t, f.Start(ctx, "a", "/w", "cmd"))
	assert.True(t, f.IsRunning(ctx, "a"))
	assert.Error(t, f.Start(ctx, "a", "/w", "cmd"))

	f.Finish("a")
	assert.False(t, f.IsRunning(ctx, "a"))

	f.SetAlive("b", true)
	f.Kill(ctx, "b")
	assert.False(t, f.IsRunning(ctx, "b"))
	assert.Equal(t, []string{"b"}, f.KilledSessions())
	assert.Len(t, f.Launches(), 1)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "loop-my_site", SafeName("loop-my.site"))
	assert.Equal(t, "loop-a_b_c", SafeName("loop-a:b.c"))
	assert.Equal(t, "brainstorm--1001", SafeName("brainstorm--1001"))
}

func TestFakeRenamesLikeTmux(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	require.NoError(t, f.Start(ctx, "loop-my.site", "/w", "cmd"))
	assert.False(t, f.IsRunning(ctx, "loop-my.site"))
	assert.True(t, f.IsRunning(ctx, "loop-my_site"))
	assert.ErrorContains(t, f.Start(ctx, "loop-my.site", "/w", "cmd"), "duplicate session: loop-my_site")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "'plain'", Quote("plain"))
	assert.Equal(t, `'it'"'"'s'`, Quote("it's"))

	out, err := (&RealExec{}).Output(context.Background(), "sh", "-c", "printf %s "+Quote(`a "b" $c 'd'`))
	require.NoError(t, err)
	assert.Equal(t, `a "b" $c 'd'`, string(out))
}
