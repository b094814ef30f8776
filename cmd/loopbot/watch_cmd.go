package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/ui"
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of running tasks, queues and brainstorms",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().Duration("interval", 5*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	// Fail fast when no daemon is listening.
	hctx, hcancel := context.WithTimeout(ctx, requestTimeout)
	err = client.Health(hctx)
	hcancel()
	if err != nil {
		return err
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	return ui.RunDashboard(ctx, snapshotFetcher(client), streamEvents(ctx, client), interval)
}

// snapshotFetcher loads the three dashboard lists concurrently.
func snapshotFetcher(client *api.Client) ui.Fetcher {
	return func(ctx context.Context) (ui.Snapshot, error) {
		var snap ui.Snapshot
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			snap.Tasks, err = client.Tasks(ctx)
			return err
		})
		g.Go(func() (err error) {
			snap.Queues, err = client.Queues(ctx)
			return err
		})
		g.Go(func() (err error) {
			snap.Brainstorms, err = client.BrainstormSessions(ctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return ui.Snapshot{}, err
		}
		return snap, nil
	}
}

// streamEvents relays daemon notifications until ctx ends. Events are
// dropped while the dashboard is busy.
func streamEvents(ctx context.Context, client *api.Client) <-chan notify.Event {
	ch := make(chan notify.Event, 16)
	go func() {
		defer close(ch)
		err := client.Events(ctx, func(ev notify.Event) {
			select {
			case ch <- ev:
			default:
			}
		})
		if err != nil {
			logging.Logger().Warn("watch_events_closed", "error", err)
		}
	}()
	return ch
}
