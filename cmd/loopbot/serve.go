package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/config"
	"github.com/sjoeboo/loopbot/internal/daemon"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

// State files kept in the projects root.
const (
	taskStateFile   = ".tasks.json"
	taskHistoryFile = ".task_history.json"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon: pollers, maintenance and the control API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// services is everything a running daemon owns.
type services struct {
	runner     tmux.Runner
	tasks      *task.Manager
	brainstorm *brainstorm.Manager
	hub        *notify.Hub
	notifier   notify.Sink
	server     *api.Server
	daemon     *daemon.Daemon
}

func buildServices(ctx context.Context, c *config.Config, runner tmux.Runner) *services {
	root := c.ProjectsRoot()

	tasks := task.NewManager(ctx, runner, task.Options{
		StatePath:      filepath.Join(root, taskStateFile),
		HistoryPath:    filepath.Join(root, taskHistoryFile),
		LoopScript:     c.LoopScript(),
		MaxQueueSize:   c.QueueMaxSize(),
		QueueTTL:       c.QueueTTL(),
		MinDiskMB:      c.MinDiskMB(),
		StaleThreshold: c.StaleThreshold(),
	})
	bs := brainstorm.NewManager(ctx, runner, brainstorm.Options{
		Root:          root,
		ClaudeCommand: c.ClaudeCommand(),
		PollInterval:  c.BrainstormPollInterval(),
		Timeout:       c.BrainstormTimeout(),
	})

	hub := notify.NewHub()
	sinks := notify.Multi{notify.LogSink{}, hub}
	if c.TelegramEnabled() {
		sinks = append(sinks, notify.NewTelegram(c.TelegramAPIURL(), c.Telegram.Token, c.Telegram.ChatID, c.TelegramRate()))
	}

	server := api.New(c.Listen(), api.Deps{
		Tasks:        tasks,
		Brainstorm:   bs,
		Runner:       runner,
		Hub:          hub,
		Notifier:     sinks,
		ProjectsRoot: root,
		DiffRange:    c.GitDiffRange(),
		Token:        c.Server.Token,
	})
	d := daemon.New(daemon.Options{
		ProjectsRoot:     root,
		CompletionPoll:   c.CompletionPoll(),
		ProgressPoll:     c.ProgressPoll(),
		RotationInterval: c.RotationInterval(),
		LogRetentionDays: c.LogRetentionDays(),
		LogMaxSizeMB:     c.LogMaxSizeMB(),
	}, tasks, runner, sinks, server)

	return &services{
		runner:     runner,
		tasks:      tasks,
		brainstorm: bs,
		hub:        hub,
		notifier:   sinks,
		server:     server,
		daemon:     d,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, "warning:", p)
		}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := tmux.New(&tmux.RealExec{Timeout: 10 * time.Second}, cfg.Tmux.Socket)
	svc := buildServices(ctx, cfg, runner)
	logging.Logger().Info("loopbot_serving",
		"version", Version,
		"listen", cfg.Listen(),
		"projects_root", cfg.ProjectsRoot(),
		"telegram", cfg.TelegramEnabled())
	fmt.Printf("loopbot %s listening on %s (projects: %s)\n", Version, cfg.Listen(), cfg.ProjectsRoot())

	err := svc.daemon.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
