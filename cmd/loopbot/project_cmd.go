package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/project"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
	"github.com/sjoeboo/loopbot/internal/ui"
)

func init() {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "List the projects under the projects root",
		Args:  cobra.NoArgs,
		RunE:  runProjects,
	}
	addJSONFlag(projectsCmd)

	diffCmd := &cobra.Command{
		Use:   "diff <project>",
		Short: "Show the change summary over the configured diff range",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiff,
	}
	diffCmd.Flags().String("range", "", "Git range (default from config, e.g. HEAD~5..HEAD)")
	diffCmd.Flags().Bool("patch", false, "Print the full patch")

	worktreeCmd := &cobra.Command{
		Use:   "worktree <project> <suffix>",
		Short: "Create <project>-<suffix> as a git worktree on branch <suffix>",
		Args:  cobra.ExactArgs(2),
		RunE:  runWorktree,
	}

	peekCmd := &cobra.Command{
		Use:   "peek <project>",
		Short: "Print the current screen of a project's loop session",
		Args:  cobra.ExactArgs(1),
		RunE:  runPeek,
	}

	attachCmd := &cobra.Command{
		Use:   "attach <project>",
		Short: "Attach the terminal to a project's loop session (detach with C-b d)",
		Args:  cobra.ExactArgs(1),
		RunE:  runAttach,
	}

	rootCmd.AddCommand(projectsCmd, diffCmd, worktreeCmd, peekCmd, attachCmd)
}

// runProjects asks the daemon first and scans the root itself when no
// daemon is reachable.
func runProjects(cmd *cobra.Command, _ []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	var projects []project.Project
	client, err := newClient()
	if err == nil {
		projects, err = client.Projects(ctx)
	}
	var apiErr *api.Error
	if err != nil && !errors.As(err, &apiErr) {
		logging.Logger().Debug("projects_local_fallback", "error", err)
		projects, err = project.List(ctx, cfg.ProjectsRoot())
	}
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		if projects == nil {
			projects = []project.Project{}
		}
		return printJSON(cmd.OutOrStdout(), projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("No projects under "+cfg.ProjectsRoot()))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), projectTable(projects).String())
	return nil
}

func projectTable(projects []project.Project) *ui.Table {
	tbl := &ui.Table{Headers: []string{"NAME", "BRANCH", "LOOP", "WORKTREE OF"}}
	for _, p := range projects {
		loop := "-"
		if p.HasLoop {
			loop = "yes"
		}
		parent := "-"
		if p.IsWorktree {
			parent = p.ParentRepo
		}
		tbl.Append(p.Name, p.Branch, loop, parent)
	}
	return tbl
}

func runDiff(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	rng, _ := cmd.Flags().GetString("range")
	d, err := client.Diff(ctx, args[0], rng)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if d.Stats == nil {
		fmt.Fprintf(out, "%s: no changes\n", d.Range)
	} else {
		fmt.Fprintf(out, "%s: %d files changed, %s, %s\n", d.Range, d.Stats.FilesChanged,
			ui.SuccessStyle.Render(fmt.Sprintf("+%d", d.Stats.Insertions)),
			ui.ErrorStyle.Render(fmt.Sprintf("-%d", d.Stats.Deletions)))
	}
	if patch, _ := cmd.Flags().GetBool("patch"); patch && d.Patch != "" {
		fmt.Fprintln(out)
		fmt.Fprint(out, d.Patch)
	}
	return nil
}

func runWorktree(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	msg, err := client.CreateWorktree(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.SuccessStyle.Render("✓"), msg)
	return nil
}

func runPeek(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	pane, err := client.Pane(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.TitleStyle.Render(pane.Session))
	fmt.Fprintln(out, strings.TrimRight(pane.Content, "\n"))
	if pane.WaitingForInput {
		fmt.Fprintln(out, ui.WarningStyle.Render(fmt.Sprintf("⚠ waiting for input: run `loopbot attach %s`", args[0])))
	}
	return nil
}

// runAttach talks to tmux directly so it works without a daemon.
func runAttach(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	p, err := project.Find(ctx, cfg.ProjectsRoot(), args[0])
	if err != nil {
		return err
	}
	runner := tmux.New(&tmux.RealExec{}, cfg.Tmux.Socket)
	return runner.Attach(ctx, task.SessionName(p.Name))
}
