// Package daemon runs loopbot's background work: completion and progress
// polling, the progress watcher, periodic maintenance and the control API.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/git"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/maintenance"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/progress"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

var daemonLog = logging.ForComponent(logging.CompDaemon)

// Options configures the loops. Zero durations use the defaults.
type Options struct {
	ProjectsRoot     string
	CompletionPoll   time.Duration
	ProgressPoll     time.Duration
	RotationInterval time.Duration
	LogRetentionDays int
	LogMaxSizeMB     float64

	Now func() time.Time
	// Summarize builds the completion report; defaults to git-backed.
	Summarize func(ctx context.Context, t task.Task) notify.Summary
}

// Server is the control API as the daemon sees it.
type Server interface {
	Start(ctx context.Context) error
}

// Daemon ties the managers to their pollers and the notifier.
type Daemon struct {
	opts     Options
	tasks    *task.Manager
	runner   tmux.Runner
	notifier notify.Sink
	server   Server
	watcher  *progress.Watcher

	// progressMu serializes progress checks from the ticker and watcher.
	progressMu sync.Mutex
	kick       chan struct{}
}

// New wires a daemon. server may be nil. The progress watcher is optional:
// when fsnotify is unavailable the ticker alone drives progress checks.
func New(opts Options, tasks *task.Manager, runner tmux.Runner, notifier notify.Sink, server Server) *Daemon {
	if opts.CompletionPoll <= 0 {
		opts.CompletionPoll = 30 * time.Second
	}
	if opts.ProgressPoll <= 0 {
		opts.ProgressPoll = 15 * time.Second
	}
	if opts.RotationInterval <= 0 {
		opts.RotationInterval = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.LogSink{}
	}
	d := &Daemon{
		opts:     opts,
		tasks:    tasks,
		runner:   runner,
		notifier: notifier,
		server:   server,
		kick:     make(chan struct{}, 1),
	}
	if d.opts.Summarize == nil {
		d.opts.Summarize = d.summarize
	}

	w, err := progress.New(func(string) { d.requestProgress() }, time.Second)
	if err != nil {
		daemonLog.Warn("progress_watcher_unavailable", "error", err)
	} else {
		d.watcher = w
	}
	return d
}

// Run blocks until ctx is cancelled or a component fails. The first
// failure cancels the rest.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if d.server != nil {
		g.Go(func() error { return d.server.Start(ctx) })
	}
	if d.watcher != nil {
		defer d.watcher.Close()
		d.watcher.Sync(d.tasks.WatchedPaths())
		g.Go(func() error { return d.watcher.Run(ctx) })
	}
	g.Go(func() error {
		every(ctx, d.opts.CompletionPoll, nil, d.PollCompletion)
		return nil
	})
	g.Go(func() error {
		every(ctx, d.opts.ProgressPoll, d.kick, d.PollProgress)
		return nil
	})
	g.Go(func() error {
		d.RunMaintenance(ctx)
		every(ctx, d.opts.RotationInterval, nil, d.RunMaintenance)
		return nil
	})

	daemonLog.Info("daemon_started",
		"completion_poll", d.opts.CompletionPoll.String(),
		"progress_poll", d.opts.ProgressPoll.String())
	err := g.Wait()
	daemonLog.Info("daemon_stopped", "error", err)
	return err
}

// every calls fn on each tick and on each kick until ctx is done.
func every(ctx context.Context, interval time.Duration, kick <-chan struct{}, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
		fn(ctx)
	}
}

func (d *Daemon) requestProgress() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Daemon) send(ctx context.Context, ev notify.Event) string {
	if ev.Time.IsZero() {
		ev.Time = d.opts.Now()
	}
	id, err := d.notifier.Send(ctx, ev)
	if err != nil {
		daemonLog.Warn("notify_failed", "kind", string(ev.Kind), "project", ev.Project, "error", err)
	}
	return id
}

func (d *Daemon) syncWatcher() {
	if d.watcher != nil {
		d.watcher.Sync(d.tasks.WatchedPaths())
	}
}

// PollCompletion archives finished tasks, reports them with their
// promoted successor, and reports expired queue entries.
func (d *Daemon) PollCompletion(ctx context.Context) {
	completions, expired := d.tasks.ProcessCompleted(ctx)
	now := d.opts.Now()

	for _, q := range expired {
		minutes := int(now.Sub(q.QueuedAt).Minutes())
		d.send(ctx, notify.Event{
			Kind:    notify.KindQueueExpired,
			Project: q.Project,
			Text:    notify.FormatQueueExpired(q, minutes),
			Data:    q,
		})
	}

	for _, c := range completions {
		switch {
		case c.Completed != nil:
			summary := d.opts.Summarize(ctx, *c.Completed)
			summary.Next = c.Next
			d.send(ctx, notify.Event{
				Kind:    notify.KindTaskCompleted,
				Project: c.Completed.Project,
				Text:    notify.FormatCompletion(summary),
				Data:    c,
			})
		case c.Next != nil:
			d.send(ctx, notify.Event{
				Kind:    notify.KindTaskFromQueue,
				Project: c.Next.Project,
				Text:    notify.FormatStartedFromQueue(*c.Next),
				Data:    c,
			})
		}
	}
	if len(completions) > 0 {
		d.syncWatcher()
	}
}

// summarize collects the git and plan state of a finished task. Git
// failures leave the corresponding section out.
func (d *Daemon) summarize(ctx context.Context, t task.Task) notify.Summary {
	s := notify.Summary{Task: t, Duration: d.tasks.Duration(t)}
	if t.StartCommit != "" {
		if stats, err := git.DiffStatsSince(ctx, t.ProjectPath, t.StartCommit); err != nil {
			daemonLog.Debug("diff_stats_failed", "project", t.Project, "error", err)
		} else {
			s.Diff = stats
		}
		if commits, err := git.RecentCommits(ctx, t.ProjectPath, t.StartCommit, 5); err != nil {
			daemonLog.Debug("recent_commits_failed", "project", t.Project, "error", err)
		} else {
			s.Commits = commits
		}
	}
	s.PlanDone, s.PlanTotal, s.HasPlan = git.PlanProgress(t.ProjectPath)
	return s
}

// PollProgress reports new iterations, editing the task's progress message
// in place, and warns once about stalled tasks.
func (d *Daemon) PollProgress(ctx context.Context) {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()

	for _, ev := range d.tasks.CheckProgress(ctx) {
		t := ev.Task
		switch ev.Kind {
		case task.ProgressIteration:
			id := d.send(ctx, notify.Event{
				Kind:      notify.KindTaskProgress,
				Project:   t.Project,
				Text:      notify.FormatProgress(t, ev.Iteration, ev.Elapsed),
				MessageID: t.ProgressMessageID,
				Data:      ev,
			})
			if id != "" {
				d.tasks.SetProgressMessageID(t.ProjectPath, id)
			}
		case task.ProgressStale:
			d.send(ctx, notify.Event{
				Kind:    notify.KindTaskStale,
				Project: t.Project,
				Text:    d.staleText(ctx, t, ev.StaleFor),
				Data:    ev,
			})
		}
	}
	d.syncWatcher()
}

// staleText adds a hint when the loop's pane shows it is blocked on a
// question.
func (d *Daemon) staleText(ctx context.Context, t task.Task, staleFor time.Duration) string {
	text := notify.FormatStale(t.Project, int(staleFor.Minutes()))
	capturer, ok := d.runner.(tmux.Capturer)
	if !ok {
		return text
	}
	pane, err := capturer.Capture(ctx, t.SessionName, 40)
	if err != nil {
		daemonLog.Debug("pane_capture_failed", "session", t.SessionName, "error", err)
		return text
	}
	if tmux.WaitingForInput(pane) {
		text += fmt.Sprintf("\n\nThe session appears to be waiting for input. Run `loopbot attach %s`.", t.Project)
	}
	return text
}

// RunMaintenance rotates loop logs and removes orphaned brainstorm
// transcripts.
func (d *Daemon) RunMaintenance(ctx context.Context) {
	live := func(chatID int64) bool { return d.runner.IsRunning(ctx, brainstorm.TmuxName(chatID)) }
	res := maintenance.Run(d.opts.ProjectsRoot, d.opts.LogRetentionDays, d.opts.LogMaxSizeMB, d.opts.Now(), live)
	if res.Deleted == 0 {
		return
	}
	d.send(ctx, notify.Event{
		Kind: notify.KindMaintenance,
		Text: notify.FormatMaintenance(res),
		Data: res,
	})
}
