package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/config"
	"github.com/sjoeboo/loopbot/internal/maintenance"
	"github.com/sjoeboo/loopbot/internal/tmux"
	"github.com/sjoeboo/loopbot/internal/ui"
)

func init() {
	maintenanceCmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Rotate loop logs and delete orphaned brainstorm transcripts now",
		Args:  cobra.NoArgs,
		RunE:  runMaintenance,
	}

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, required tools, disk space and daemon",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
	doctorCmd.Flags().Bool("init", false, "Write an example config file if none exists")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the loopbot version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loopbot v%s\n", Version)
		},
	}

	rootCmd.AddCommand(maintenanceCmd, doctorCmd, versionCmd)
}

func runMaintenance(cmd *cobra.Command, _ []string) error {
	runner := tmux.New(&tmux.RealExec{}, cfg.Tmux.Socket)
	live := func(chatID int64) bool {
		return runner.IsRunning(commandContext(cmd), brainstorm.TmuxName(chatID))
	}
	res := maintenance.Run(cfg.ProjectsRoot(), cfg.LogRetentionDays(), cfg.LogMaxSizeMB(), time.Now(), live)
	fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d files, freed %.1f MB\n",
		ui.SuccessStyle.Render("✓"), res.Deleted, float64(res.FreedBytes)/(1024*1024))
	return nil
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	if initFlag, _ := cmd.Flags().GetBool("init"); initFlag {
		path := configPath
		if path == "" {
			p, err := config.Path()
			if err != nil {
				return err
			}
			path = p
		}
		written, err := config.WriteExample(path)
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if written {
			fmt.Fprintf(out, "%s Wrote %s\n", ui.SuccessStyle.Render("✓"), path)
		} else {
			fmt.Fprintf(out, "%s %s already exists\n", ui.DimStyle.Render("·"), path)
		}
	}

	failed := 0
	check := func(ok bool, msg string) {
		if ok {
			fmt.Fprintf(out, "%s %s\n", ui.SuccessStyle.Render("✓"), msg)
			return
		}
		failed++
		fmt.Fprintf(out, "%s %s\n", ui.ErrorStyle.Render("✗"), msg)
	}

	problems := cfg.Validate()
	for _, p := range problems {
		check(false, p)
	}
	if len(problems) == 0 {
		check(true, "configuration and tools")
	}

	enough, freeMB, err := maintenance.CheckDiskSpace(cfg.ProjectsRoot(), cfg.MinDiskMB())
	if err != nil {
		check(false, fmt.Sprintf("disk: %v", err))
	} else {
		check(enough, fmt.Sprintf("disk: %.0f MB free (need %d MB)", freeMB, cfg.MinDiskMB()))
	}

	if cfg.TelegramEnabled() {
		check(true, fmt.Sprintf("telegram notifications to chat %d", cfg.Telegram.ChatID))
	} else {
		fmt.Fprintf(out, "%s telegram not configured; notifications go to the log only\n", ui.DimStyle.Render("·"))
	}

	// The daemon being down is not a failure; serve may not be running yet.
	client, err := newClient()
	if err == nil {
		ctx, cancel := context.WithTimeout(commandContext(cmd), 3*time.Second)
		err = client.Health(ctx)
		cancel()
	}
	if err != nil {
		fmt.Fprintf(out, "%s daemon not reachable at %s: %v\n", ui.WarningStyle.Render("!"), cfg.Listen(), err)
	} else {
		fmt.Fprintf(out, "%s daemon reachable at %s\n", ui.SuccessStyle.Render("✓"), cfg.Listen())
	}

	if failed > 0 {
		return fmt.Errorf("%d problem(s) found", failed)
	}
	return nil
}
