package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

var outputRe = regexp.MustCompile(`> '([^']+)' 2>&1$`)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Send(_ context.Context, ev notify.Event) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return "", nil
}

func (r *recordingSink) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testEnv struct {
	root   string
	runner *tmux.Fake
	sink   *recordingSink
	hub    *notify.Hub
	srv    *httptest.Server
	client *Client
}

// newTestEnv serves the API over httptest with a fake tmux. Brainstorm
// launches answer immediately with "reply <n>".
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"alpha", "beta"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name, ".git"), 0o755))
	}

	runner := tmux.NewFake()
	var turns atomic.Int32
	runner.OnStart = func(name, _, command string) {
		if !strings.HasPrefix(name, "brainstorm-") {
			return
		}
		n := turns.Add(1)
		m := outputRe.FindStringSubmatch(command)
		if assert.Len(t, m, 2) {
			line, _ := json.Marshal(map[string]any{
				"type": "result", "result": fmt.Sprintf("reply %d", n), "session_id": "sess-1",
			})
			require.NoError(t, os.WriteFile(m[1], line, 0o644))
		}
		runner.Finish(name)
	}

	ctx := context.Background()
	tasks := task.NewManager(ctx, runner, task.Options{
		StatePath:   filepath.Join(root, ".tasks.json"),
		HistoryPath: filepath.Join(root, ".task_history.json"),
		LoopScript:  "/opt/loop/scripts/loop.sh",
		DiskSpace:   func(string, int) (bool, float64, error) { return true, 10_000, nil },
		CommitHash:  func(context.Context, string) (string, error) { return "abc1234", nil },
	})
	bs := brainstorm.NewManager(ctx, runner, brainstorm.Options{
		Root:         root,
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	})

	env := &testEnv{root: root, runner: runner, sink: &recordingSink{}, hub: notify.NewHub()}
	s := New("", Deps{
		Tasks:        tasks,
		Brainstorm:   bs,
		Runner:       runner,
		Hub:          env.hub,
		Notifier:     env.sink,
		ProjectsRoot: root,
		DiffRange:    "HEAD~5..HEAD",
		Token:        token,
	})
	env.srv = httptest.NewServer(s)
	t.Cleanup(env.srv.Close)

	c, err := NewClient(env.srv.URL, token)
	require.NoError(t, err)
	env.client = c
	return env
}

func apiError(t *testing.T, err error) *Error {
	t.Helper()
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr), "want *Error, got %v", err)
	return apiErr
}

func TestRequireToken(t *testing.T) {
	env := newTestEnv(t, "secret")
	ctx := context.Background()

	require.NoError(t, env.client.Health(ctx))

	anon, err := NewClient(env.srv.URL, "")
	require.NoError(t, err)
	e := apiError(t, anon.Health(ctx))
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, "UNAUTHORIZED", e.Code)

	wrong, err := NewClient(env.srv.URL, "secreT")
	require.NoError(t, err)
	assert.Error(t, wrong.Health(ctx))
}

func TestCheckLoopback(t *testing.T) {
	assert.NoError(t, checkLoopback("127.0.0.1:7777"))
	assert.NoError(t, checkLoopback("localhost:0"))
	assert.NoError(t, checkLoopback("[::1]:7777"))
	assert.Error(t, checkLoopback("0.0.0.0:7777"))
	assert.Error(t, checkLoopback(":7777"))
	assert.Error(t, checkLoopback("no-port"))
}

func TestStartListAndQueue(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	res, err := env.client.StartTask(ctx, StartTaskRequest{Project: "alpha", Mode: "build", Iterations: 3})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, task.CodeStarted, res.Code)
	require.Len(t, env.runner.Launches(), 1)
	assert.Equal(t, "loop-alpha", env.runner.Launches()[0].Name)

	tasks, err := env.client.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "alpha", tasks[0].Project)
	assert.Equal(t, task.ModeBuild, tasks[0].Mode)

	one, err := env.client.Task(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "loop-alpha", one.SessionName)

	res, err = env.client.StartTask(ctx, StartTaskRequest{Project: "alpha", Mode: "plan", Iterations: 2})
	require.NoError(t, err)
	assert.Equal(t, task.CodeQueued, res.Code)
	assert.Equal(t, 1, res.Position)

	queue, err := env.client.Queue(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, task.ModePlan, queue[0].Mode)

	all, err := env.client.Queues(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, env.client.CancelQueued(ctx, "alpha", queue[0].ID))
	queue, err = env.client.Queue(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, queue)

	e := apiError(t, env.client.CancelQueued(ctx, "alpha", "missing"))
	assert.Equal(t, http.StatusNotFound, e.Status)

	assert.Equal(t, []notify.Kind{notify.KindTaskStarted, notify.KindTaskQueued}, env.sink.kinds())
}

func TestStartTaskErrors(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	_, err := env.client.StartTask(ctx, StartTaskRequest{Project: "alpha", Mode: "deploy", Iterations: 3})
	e := apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, "INVALID_MODE", e.Code)

	_, err = env.client.StartTask(ctx, StartTaskRequest{Project: "zzz", Mode: "build", Iterations: 3})
	e = apiError(t, err)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.Equal(t, "PROJECT_NOT_FOUND", e.Code)

	_, err = env.client.StartTask(ctx, StartTaskRequest{Project: "alpha", Mode: "build", Iterations: 0})
	e = apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, e.Status)

	assert.Empty(t, env.runner.Launches())
	assert.Empty(t, env.sink.kinds())
}

func TestFuzzyProjectName(t *testing.T) {
	env := newTestEnv(t, "")
	res, err := env.client.StartTask(context.Background(), StartTaskRequest{Project: "alp", Mode: "build", Iterations: 1})
	require.NoError(t, err)
	require.Equal(t, task.CodeStarted, res.Code)
	assert.Equal(t, "alpha", res.Task.Project)
}

func TestGetTaskNotRunning(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.client.Task(context.Background(), "beta")
	e := apiError(t, err)
	assert.Equal(t, "NO_TASK", e.Code)
}

func TestPane(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	_, err := env.client.Pane(ctx, "alpha")
	assert.Equal(t, "NO_SESSION", apiError(t, err).Code)

	env.runner.SetAlive("loop-alpha", true)
	env.runner.SetPane("loop-alpha", "Apply changes?\n Do you want to proceed?\n❯ 1. Yes")
	pane, err := env.client.Pane(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "loop-alpha", pane.Session)
	assert.True(t, pane.WaitingForInput)
}

func TestEmptyListsAreArrays(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	resp, err := http.Get(env.srv.URL + "/api/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []any{}, body["data"])

	hist, err := env.client.BrainstormHistory(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, hist)

	projects, err := env.client.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
}

func TestBrainstormWebsocket(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	conn, err := env.client.Brainstorm(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var updates []brainstorm.Update
	msg, err := conn.Do(BrainstormRequest{Op: OpStart, ChatID: 7, Project: "alpha", Text: "A habit tracker"},
		func(u brainstorm.Update) { updates = append(updates, u) })
	require.NoError(t, err)
	require.Equal(t, "result", msg.Type)
	assert.Equal(t, brainstorm.CodeOK, msg.Update.Code)
	assert.Equal(t, "reply 1", msg.Update.Text)
	assert.True(t, msg.Update.Final)
	require.Len(t, updates, 2)
	assert.Equal(t, brainstorm.CodeStarting, updates[0].Code)
	assert.Equal(t, brainstorm.CodeThinking, updates[1].Code)

	sessions, err := env.client.BrainstormSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, brainstorm.StatusReady, sessions[0].Status)

	msg, err = conn.Do(BrainstormRequest{Op: OpRespond, ChatID: 7, Text: "Daily streaks"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "reply 2", msg.Update.Text)

	msg, err = conn.Do(BrainstormRequest{Op: OpFinish, ChatID: 7}, nil)
	require.NoError(t, err)
	require.Equal(t, "finished", msg.Type)
	require.True(t, msg.Finish.OK, msg.Finish.Message)
	roadmap, err := os.ReadFile(filepath.Join(env.root, "alpha", "docs", "ROADMAP.md"))
	require.NoError(t, err)
	assert.Equal(t, "reply 3", string(roadmap))
	assert.Contains(t, env.sink.kinds(), notify.KindBrainstorm)

	msg, err = conn.Do(BrainstormRequest{Op: OpRespond, ChatID: 7, Text: "more"}, nil)
	require.NoError(t, err)
	assert.Equal(t, brainstorm.ErrNoSession, msg.Update.Code)

	path, err := env.client.ExportBrainstorm(ctx, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = env.client.ExportBrainstorm(ctx, 5)
	assert.Equal(t, http.StatusNotFound, apiError(t, err).Status)

	msg, err = conn.Do(BrainstormRequest{Op: "shout", ChatID: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "error", msg.Type)
}

func TestBrainstormCancel(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	err := env.client.CancelBrainstorm(ctx, 9)
	assert.Equal(t, string(brainstorm.ErrNoSession), apiError(t, err).Code)

	conn, err := env.client.Brainstorm(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Do(BrainstormRequest{Op: OpStart, ChatID: 9, Project: "beta", Text: "idea"}, nil)
	require.NoError(t, err)

	msg, err := conn.Do(BrainstormRequest{Op: OpCancel, ChatID: 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", msg.Type)
	assert.True(t, msg.Cancelled)

	hist, err := env.client.BrainstormHistory(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, brainstorm.OutcomeCancelled, hist[0].Outcome)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan notify.Event, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.client.Events(ctx, func(ev notify.Event) { got <- ev })
	}()

	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err := env.hub.Send(ctx, notify.Event{Kind: notify.KindTaskStale, Project: "alpha", Text: "stale"})
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, notify.KindTaskStale, ev.Kind)
		assert.Equal(t, "alpha", ev.Project)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Events did not return after cancel")
	}
}
