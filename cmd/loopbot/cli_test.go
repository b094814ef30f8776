package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/config"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

var outputRe = regexp.MustCompile(`> '([^']+)' 2>&1$`)

type cliEnv struct {
	root       string
	configPath string
	runner     *tmux.Fake
	svc        *services
}

// newCLIEnv serves a real API over httptest backed by a fake tmux and
// writes a config file pointing the CLI at it.
func newCLIEnv(t *testing.T) *cliEnv {
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
		if m := outputRe.FindStringSubmatch(command); len(m) == 2 {
			line, _ := json.Marshal(map[string]any{
				"type": "result", "result": fmt.Sprintf("idea %d", n), "session_id": "sess-cli",
			})
			_ = os.WriteFile(m[1], line, 0o644)
		}
		runner.Finish(name)
	}

	c := &config.Config{}
	c.Projects.Root = root
	c.Tasks.MinDiskMB = 1
	c.Brainstorm.PollIntervalSeconds = 0.01
	c.Brainstorm.TimeoutSeconds = 5
	svc := buildServices(context.Background(), c, runner)

	srv := httptest.NewServer(svc.server)
	t.Cleanup(srv.Close)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	body := fmt.Sprintf("[projects]\nroot = %q\n\n[tasks]\nmin_disk_mb = 1\n\n[server]\nlisten = %q\n",
		root, srv.Listener.Addr().String())
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	return &cliEnv{root: root, configPath: cfgPath, runner: runner, svc: svc}
}

// run executes the root command and resets every flag afterwards so
// values do not leak between invocations.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	defer resetFlags(rootCmd)

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "loopbot v"+Version+"\n", out)
}

func TestStartQueueCancel(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "start", "alpha", "build", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Build started for alpha (3 iterations, session loop-alpha)")

	out, err = env.run(t, "", "start", "alpha", "plan", "--idea", "caching")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued #1")

	out, err = env.run(t, "", "queue", "alpha", "--json")
	require.NoError(t, err)
	var queues map[string][]task.QueuedTask
	require.NoError(t, json.Unmarshal([]byte(out), &queues))
	require.Len(t, queues["alpha"], 1)
	queued := queues["alpha"][0]
	assert.Equal(t, task.ModePlan, queued.Mode)
	assert.Equal(t, "caching", queued.Idea)

	out, err = env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "PROJECT")
	assert.Contains(t, out, "loop-alpha")

	out, err = env.run(t, "", "cancel", "alpha", queued.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+queued.ID)
	assert.Empty(t, env.svc.tasks.Queues())

	_, err = env.run(t, "", "cancel", "alpha", queued.ID)
	assert.Error(t, err)
}

func TestStartValidation(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "start", "alpha", "deploy")
	assert.ErrorContains(t, err, "invalid mode")

	_, err = env.run(t, "", "start", "alpha", "build", "zero")
	assert.ErrorContains(t, err, "iterations must be a positive number")

	_, err = env.run(t, "", "start", "nope-nothing", "build")
	assert.ErrorContains(t, err, "not found")
	assert.Empty(t, env.runner.Launches())
}

func TestStatusEmpty(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No running tasks.")
}

func TestProjectsFallsBackToLocalScan(t *testing.T) {
	env := newCLIEnv(t)
	offline := filepath.Join(t.TempDir(), "offline.toml")
	body := fmt.Sprintf("[projects]\nroot = %q\n\n[server]\nlisten = \"127.0.0.1:1\"\n", env.root)
	require.NoError(t, os.WriteFile(offline, []byte(body), 0o600))
	env.configPath = offline

	out, err := env.run(t, "", "projects")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "beta")
}

func TestBrainstormConversation(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "more detail\n\n/done\n", "brainstorm", "--chat", "7", "alpha", "a", "caching", "layer")
	require.NoError(t, err)
	assert.Contains(t, out, "idea 1")
	assert.Contains(t, out, "idea 2")
	assert.Contains(t, out, "ROADMAP.md")

	roadmap, err := os.ReadFile(brainstorm.RoadmapPath(filepath.Join(env.root, "alpha")))
	require.NoError(t, err)
	assert.Contains(t, string(roadmap), "idea 3")

	out, err = env.run(t, "", "brainstorm", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "a caching layer")
	assert.Contains(t, out, "saved")
}

func TestBrainstormCancelAtPrompt(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "/cancel\n", "brainstorm", "--chat", "9", "beta", "rewrite", "it")
	require.NoError(t, err)
	assert.Contains(t, out, "Brainstorming cancelled.")
	assert.Empty(t, env.svc.brainstorm.Sessions())
}

func TestBrainstormEOFLeavesSessionOpen(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "", "brainstorm", "--chat", "11", "beta", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Session left open")
	require.NotNil(t, env.svc.brainstorm.Session(11))

	out, err = env.run(t, "", "brainstorm", "cancel", "--chat", "11")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	assert.Nil(t, env.svc.brainstorm.Session(11))
}

func TestIndexedHistoryKeepsGlobalIndex(t *testing.T) {
	entries := []brainstorm.HistoryEntry{
		{Project: "alpha", Topic: "one"},
		{Project: "beta", Topic: "two"},
		{Project: "alpha", Topic: "three"},
	}
	rows := indexedHistory(entries, "alpha")
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].index)
	assert.Equal(t, 2, rows[1].index)
	assert.Len(t, indexedHistory(entries, ""), 3)
}

func TestQueueTableOrdersProjects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	queues := map[string][]task.QueuedTask{
		"/p/beta":  {{ID: "b1", Project: "beta", Mode: task.ModeBuild, Iterations: 2, QueuedAt: now.Add(-time.Minute)}},
		"/p/alpha": {{ID: "a1", Project: "alpha", Mode: task.ModePlan, Iterations: 1, QueuedAt: now.Add(-90 * time.Second)}},
	}
	out := queueTable(queues, now).String()
	assert.Less(t, strings.Index(out, "a1"), strings.Index(out, "b1"))
	assert.Contains(t, out, "1m 30s ago")
}

func TestDoctorInitWritesExample(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(t.TempDir(), "fresh", "config.toml")
	env.configPath = path

	out, _ := env.run(t, "", "doctor", "--init")
	assert.Contains(t, out, "Wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.ExampleConfig, string(data))
}
