package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/ui"
)

func init() {
	startCmd := &cobra.Command{
		Use:   "start <project> <plan|build> [iterations]",
		Short: "Start a loop run, or queue it behind the running one",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runStart,
	}
	startCmd.Flags().String("idea", "", "Idea passed to the loop script with -I")
	addJSONFlag(startCmd)

	statusCmd := &cobra.Command{
		Use:     "status [project]",
		Aliases: []string{"ls"},
		Short:   "Show running loop tasks",
		Args:    cobra.MaximumNArgs(1),
		RunE:    runStatus,
	}
	addJSONFlag(statusCmd)

	queueCmd := &cobra.Command{
		Use:   "queue [project]",
		Short: "Show queued loop runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runQueue,
	}
	addJSONFlag(queueCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel <project> <queued-id>",
		Short: "Remove a queued loop run",
		Args:  cobra.ExactArgs(2),
		RunE:  runCancel,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished loop runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	historyCmd.Flags().String("project", "", "Only show this project")
	historyCmd.Flags().Int("limit", 20, "Maximum entries to show")
	addJSONFlag(historyCmd)

	rootCmd.AddCommand(startCmd, statusCmd, queueCmd, cancelCmd, historyCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	req := api.StartTaskRequest{Project: args[0], Mode: args[1], Iterations: 1}
	if _, err := task.ParseMode(req.Mode); err != nil {
		return err
	}
	if len(args) == 3 {
		n, err := parsePositive(args[2], "iterations")
		if err != nil {
			return err
		}
		req.Iterations = n
	}
	req.Idea, _ = cmd.Flags().GetString("idea")

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	res, err := client.StartTask(ctx, req)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), res)
	}
	return printStartResult(cmd.OutOrStdout(), res)
}

func printStartResult(w io.Writer, res task.StartResult) error {
	switch res.Code {
	case task.CodeStarted:
		t := res.Task
		fmt.Fprintf(w, "%s %s started for %s (%d iterations, session %s)\n",
			ui.SuccessStyle.Render("✓"), modeLabel(t.Mode), t.Project, t.Iterations, t.SessionName)
		return nil
	case task.CodeQueued:
		fmt.Fprintf(w, "%s %s\n", ui.AccentStyle.Render("≡"), res.Message)
		if res.Queued != nil {
			fmt.Fprintf(w, "  id: %s\n", res.Queued.ID)
		}
		return nil
	}
	return errors.New(res.Message)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var tasks []api.TaskView
	if len(args) == 1 {
		tv, err := client.Task(ctx, args[0])
		if err != nil {
			return err
		}
		if tv != nil {
			tasks = append(tasks, *tv)
		}
	} else {
		tasks, err = client.Tasks(ctx)
		if err != nil {
			return err
		}
	}

	if wantJSON(cmd) {
		if tasks == nil {
			tasks = []api.TaskView{}
		}
		return printJSON(cmd.OutOrStdout(), tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("No running tasks."))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), taskTable(tasks).String())
	return nil
}

func taskTable(tasks []api.TaskView) *ui.Table {
	tbl := &ui.Table{Headers: []string{"PROJECT", "MODE", "PROGRESS", "ELAPSED", "SESSION"}}
	for _, t := range tasks {
		prog := fmt.Sprintf("?/%d", t.Iterations)
		if t.HasIteration {
			pct := 0
			if t.Iterations > 0 {
				pct = t.Iteration * 100 / t.Iterations
			}
			prog = fmt.Sprintf("%s %d/%d", notify.ProgressBar(pct), t.Iteration, t.Iterations)
		}
		tbl.Append(t.Project, t.Mode.Title(), prog, t.Elapsed, t.SessionName)
	}
	return tbl
}

func runQueue(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	queues := map[string][]task.QueuedTask{}
	if len(args) == 1 {
		q, err := client.Queue(ctx, args[0])
		if err != nil {
			return err
		}
		if len(q) > 0 {
			queues[args[0]] = q
		}
	} else if queues, err = client.Queues(ctx); err != nil {
		return err
	}

	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), queues)
	}
	if len(queues) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("Nothing queued."))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), queueTable(queues, time.Now()).String())
	return nil
}

func queueTable(queues map[string][]task.QueuedTask, now time.Time) *ui.Table {
	paths := make([]string, 0, len(queues))
	for p := range queues {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tbl := &ui.Table{Headers: []string{"#", "PROJECT", "MODE", "ITER", "QUEUED", "ID"}}
	for _, p := range paths {
		for i, q := range queues[p] {
			tbl.Append(strconv.Itoa(i+1), q.Project, q.Mode.Title(), strconv.Itoa(q.Iterations), ago(q.QueuedAt, now), q.ID)
		}
	}
	return tbl
}

func runCancel(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	if err := client.CancelQueued(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s from the %s queue\n", ui.SuccessStyle.Render("✓"), args[1], args[0])
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	projectName, _ := cmd.Flags().GetString("project")
	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := client.History(ctx, projectName)
	if err != nil {
		return err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	if wantJSON(cmd) {
		if entries == nil {
			entries = []task.HistoryEntry{}
		}
		return printJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("No finished tasks."))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), historyTable(entries).String())
	return nil
}

func historyTable(entries []task.HistoryEntry) *ui.Table {
	tbl := &ui.Table{Headers: []string{"FINISHED", "PROJECT", "MODE", "ITER", "STATUS", "DURATION"}}
	for _, e := range entries {
		tbl.Append(
			e.FinishedAt.Local().Format("2006-01-02 15:04"),
			e.Project,
			e.Mode.Title(),
			fmt.Sprintf("%d/%d", e.IterationsCompleted, e.IterationsTotal),
			string(e.Status),
			task.FormatDuration(e.FinishedAt.Sub(e.StartedAt)),
		)
	}
	return tbl
}
