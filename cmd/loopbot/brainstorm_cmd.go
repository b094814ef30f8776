package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/ui"
)

// Commands understood at the brainstorm prompt.
const (
	cmdDone   = "/done"
	cmdCancel = "/cancel"
)

var chatFlag int64

func init() {
	brainstormCmd := &cobra.Command{
		Use:   "brainstorm <project> <prompt...>",
		Short: "Brainstorm with claude about a project; /done saves ROADMAP.md, /cancel discards",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runBrainstorm,
	}
	brainstormCmd.PersistentFlags().Int64Var(&chatFlag, "chat", 0, "Conversation slot (default: the Telegram chat id)")

	resumeCmd := &cobra.Command{
		Use:   "resume <project>",
		Short: "Continue the most recent resumable brainstorm of a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runBrainstormResume,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live brainstorming sessions",
		Args:  cobra.NoArgs,
		RunE:  runBrainstormSessions,
	}
	addJSONFlag(sessionsCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the live brainstorm of a chat",
		Args:  cobra.NoArgs,
		RunE:  runBrainstormCancel,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List archived brainstorms, newest first",
		Args:  cobra.NoArgs,
		RunE:  runBrainstormHistory,
	}
	historyCmd.Flags().String("project", "", "Only show this project")
	addJSONFlag(historyCmd)

	exportCmd := &cobra.Command{
		Use:   "export <index>",
		Short: "Write an archived brainstorm to a markdown file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBrainstormExport,
	}

	brainstormCmd.AddCommand(resumeCmd, sessionsCmd, cancelCmd, historyCmd, exportCmd)
	rootCmd.AddCommand(brainstormCmd)
}

func chatID() int64 {
	if chatFlag != 0 {
		return chatFlag
	}
	if cfg != nil && cfg.Telegram.ChatID != 0 {
		return cfg.Telegram.ChatID
	}
	return 1
}

func runBrainstorm(cmd *cobra.Command, args []string) error {
	req := api.BrainstormRequest{
		Op:      api.OpStart,
		ChatID:  chatID(),
		Project: args[0],
		Text:    strings.Join(args[1:], " "),
	}
	return converse(cmd, req)
}

func runBrainstormResume(cmd *cobra.Command, args []string) error {
	return converse(cmd, api.BrainstormRequest{Op: api.OpResume, ChatID: chatID(), Project: args[0]})
}

// converse sends the opening request and then relays stdin lines as
// follow-up turns until /done, /cancel or end of input.
func converse(cmd *cobra.Command, first api.BrainstormRequest) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	conn, err := client.Brainstorm(commandContext(cmd))
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	if _, err := turn(out, conn, first); err != nil {
		return err
	}

	fmt.Fprintln(out, ui.DimStyle.Render("Reply below. "+cmdDone+" saves ROADMAP.md, "+cmdCancel+" discards."))
	return relay(cmd.InOrStdin(), out, conn, first.ChatID)
}

func relay(in io.Reader, out io.Writer, conn *api.BrainstormConn, chat int64) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, ui.AccentStyle.Render("› "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			fmt.Fprintln(out, ui.DimStyle.Render("Session left open. Continue with `loopbot brainstorm resume` after it is archived, or cancel it with `loopbot brainstorm cancel`."))
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case cmdDone:
			return finish(out, conn, chat)
		case cmdCancel:
			msg, err := conn.Do(api.BrainstormRequest{Op: api.OpCancel, ChatID: chat}, nil)
			if err != nil {
				return err
			}
			if !msg.Cancelled {
				return errors.New(brainstorm.MsgNoSession)
			}
			fmt.Fprintln(out, ui.WarningStyle.Render("Brainstorming cancelled."))
			return nil
		}
		if _, err := turn(out, conn, api.BrainstormRequest{Op: api.OpRespond, ChatID: chat, Text: line}); err != nil {
			return err
		}
	}
}

// turn runs one request and prints its answer. Errors that end the
// conversation are returned; recoverable ones are printed.
func turn(out io.Writer, conn *api.BrainstormConn, req api.BrainstormRequest) (answered bool, err error) {
	started := time.Now()
	msg, err := conn.Do(req, func(u brainstorm.Update) {
		fmt.Fprintln(out, ui.SpinnerStyle.Render("⏳ ")+ui.DimStyle.Render(u.Text))
	})
	if err != nil {
		return false, err
	}
	if msg.Type == "error" {
		return false, errors.New(msg.Error)
	}
	u := msg.Update
	if u == nil {
		return false, fmt.Errorf("unexpected %q reply", msg.Type)
	}
	switch {
	case u.Code == brainstorm.ErrTimeout, u.Code == brainstorm.ErrNotReady:
		// The session survives these; the user may retry.
		fmt.Fprintln(out, ui.ErrorStyle.Render("✗ "+u.Text))
		return false, nil
	case u.Code.IsError():
		return false, errors.New(u.Text)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, u.Text)
	fmt.Fprintln(out, ui.DimStyle.Render(fmt.Sprintf("(%s)", time.Since(started).Round(time.Second))))
	return true, nil
}

func finish(out io.Writer, conn *api.BrainstormConn, chat int64) error {
	msg, err := conn.Do(api.BrainstormRequest{Op: api.OpFinish, ChatID: chat}, func(u brainstorm.Update) {
		fmt.Fprintln(out, ui.DimStyle.Render(u.Text))
	})
	if err != nil {
		return err
	}
	if msg.Finish == nil {
		return fmt.Errorf("unexpected %q reply", msg.Type)
	}
	if !msg.Finish.OK {
		return errors.New(msg.Finish.Message)
	}
	fmt.Fprintf(out, "%s %s\n", ui.SuccessStyle.Render("✓"), msg.Finish.Message)
	if msg.Finish.Path != "" {
		fmt.Fprintln(out, ui.DimStyle.Render(msg.Finish.Path))
	}
	return nil
}

func runBrainstormSessions(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	sessions, err := client.BrainstormSessions(ctx)
	if err != nil {
		return err
	}
	if wantJSON(cmd) {
		if sessions == nil {
			sessions = []brainstorm.Session{}
		}
		return printJSON(cmd.OutOrStdout(), sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("No live brainstorms."))
		return nil
	}
	now := time.Now()
	tbl := &ui.Table{Headers: []string{"CHAT", "PROJECT", "STATUS", "TURNS", "STARTED", "TOPIC"}}
	for _, s := range sessions {
		tbl.Append(strconv.FormatInt(s.ChatID, 10), s.Project, string(s.Status),
			strconv.Itoa(len(s.Conversation)/2), ago(s.StartedAt, now), s.InitialPrompt)
	}
	fmt.Fprint(cmd.OutOrStdout(), tbl.String())
	return nil
}

func runBrainstormCancel(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	if err := client.CancelBrainstorm(ctx, chatID()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.WarningStyle.Render("Brainstorming cancelled."))
	return nil
}

func runBrainstormHistory(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	// Always fetch everything so the printed index matches export's.
	entries, err := client.BrainstormHistory(ctx, "")
	if err != nil {
		return err
	}
	projectName, _ := cmd.Flags().GetString("project")
	rows := indexedHistory(entries, projectName)

	if wantJSON(cmd) {
		out := make([]brainstorm.HistoryEntry, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.entry)
		}
		return printJSON(cmd.OutOrStdout(), out)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.DimStyle.Render("No archived brainstorms."))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), brainstormHistoryTable(rows).String())
	return nil
}

type historyRow struct {
	index int
	entry brainstorm.HistoryEntry
}

func indexedHistory(entries []brainstorm.HistoryEntry, projectName string) []historyRow {
	var rows []historyRow
	for i, e := range entries {
		if projectName == "" || e.Project == projectName {
			rows = append(rows, historyRow{index: i, entry: e})
		}
	}
	return rows
}

func brainstormHistoryTable(rows []historyRow) *ui.Table {
	tbl := &ui.Table{Headers: []string{"#", "FINISHED", "PROJECT", "OUTCOME", "TURNS", "RESUME", "TOPIC"}}
	for _, r := range rows {
		e := r.entry
		resume := "-"
		if e.Resumable() {
			resume = "yes"
		}
		tbl.Append(strconv.Itoa(r.index), e.FinishedAt.Local().Format("2006-01-02 15:04"), e.Project,
			string(e.Outcome), strconv.Itoa(e.Turns), resume, e.Topic)
	}
	return tbl
}

func runBrainstormExport(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 {
		return fmt.Errorf("index must be a non-negative number, got %q", args[0])
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	path, err := client.ExportBrainstorm(ctx, index)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Exported to %s\n", ui.SuccessStyle.Render("✓"), path)
	return nil
}
