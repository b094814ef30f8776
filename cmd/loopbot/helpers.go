package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/ui"
)

// requestTimeout bounds one-shot API calls from the CLI.
const requestTimeout = 15 * time.Second

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(commandContext(cmd), requestTimeout)
}

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Output as JSON")
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func modeLabel(m task.Mode) string {
	switch m {
	case task.ModePlan:
		return ui.PlanStyle.Render(m.Title())
	case task.ModeBuild:
		return ui.BuildStyle.Render(m.Title())
	}
	return string(m)
}

// ago renders a coarse relative time such as "5m ago".
func ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return task.FormatDuration(now.Sub(t)) + " ago"
}

func parsePositive(s, what string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", what, s)
	}
	return n, nil
}
