package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/config"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/ui"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "0.3.0"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loopbot",
	Short: "Drive loop.sh runs and claude brainstorms from Telegram or the terminal",
	Long: `loopbot runs a project's loop script in tmux, queues requests per project,
reports completion and progress to Telegram, and hosts multi-turn
brainstorming sessions with the claude CLI.

Getting Started:
  loopbot doctor --init          Write an example config and check the host
  loopbot serve                  Run the daemon and control API
  loopbot start myapp build 5    Start (or queue) five build iterations
  loopbot watch                  Live dashboard of tasks and queues`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $LOOPBOT_HOME/config.toml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Mirror logs to stderr")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.Path()
			if err != nil {
				return err
			}
			path = p
		}
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded

		debugFlag, _ := cmd.Flags().GetBool("debug")
		logCfg := logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Debug:      debugFlag || cfg.DevMode,
		}
		if cfg.DevMode && logCfg.Level == "" {
			logCfg.Level = "debug"
		}
		if home, err := config.HomeDir(); err == nil {
			logCfg.LogDir = filepath.Join(home, "logs")
		}
		logging.Init(logCfg)

		initColorProfile()
		return nil
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		logging.Shutdown()
	}
}

// initColorProfile picks the lipgloss profile for stdout.
// LOOPBOT_COLOR: truecolor, 256, 16, none
func initColorProfile() {
	switch strings.ToLower(os.Getenv("LOOPBOT_COLOR")) {
	case "truecolor", "true", "24bit":
		lipgloss.SetColorProfile(termenv.TrueColor)
	case "256", "ansi256":
		lipgloss.SetColorProfile(termenv.ANSI256)
	case "16", "ansi", "basic":
		lipgloss.SetColorProfile(termenv.ANSI)
	case "none", "off", "ascii":
		lipgloss.SetColorProfile(termenv.Ascii)
	default:
		ui.ConfigureOutput(os.Stdout)
	}
	ui.InitTheme("auto")
}

// newClient returns an API client for the configured daemon.
func newClient() (*api.Client, error) {
	return api.NewClient(cfg.Listen(), cfg.Server.Token)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("Error: "+err.Error()))
		logging.Shutdown()
		os.Exit(1)
	}
}
