package brainstorm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrIndexOutOfRange is returned when an export index does not address
	// a history entry.
	ErrIndexOutOfRange = errors.New("brainstorm session not found")
	// ErrNoConversation is returned for entries archived without turns.
	ErrNoConversation = errors.New("no conversation data to export")
)

// ExportSession writes the conversation of the index-th newest archived
// session as Markdown under <root>/<project>/docs/brainstorms/ and returns
// the file path.
func (m *Manager) ExportSession(index int) (string, error) {
	entries := m.history.List("")
	if index < 0 || index >= len(entries) {
		return "", fmt.Errorf("%w: index %d", ErrIndexOutOfRange, index)
	}
	e := entries[index]
	if len(e.Conversation) == 0 {
		return "", ErrNoConversation
	}

	stamp := e.FinishedAt
	if stamp.IsZero() {
		stamp = e.StartedAt
	}
	dir := filepath.Join(m.opts.Root, e.Project, "docs", "brainstorms")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.md", e.Project, stamp.Format("20060102_1504")))
	if err := os.WriteFile(path, []byte(RenderMarkdown(e)), 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	bsLog.Info("brainstorm_exported", "project", e.Project, "path", path)
	return path, nil
}

// RenderMarkdown formats an archived conversation.
func RenderMarkdown(e HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Brainstorm: %s\n\n", e.Topic)
	fmt.Fprintf(&b, "**Project:** %s\n", e.Project)
	date := e.StartedAt
	if date.IsZero() {
		date = e.FinishedAt
	}
	fmt.Fprintf(&b, "**Date:** %s\n", date.Format("2006-01-02 15:04"))
	if e.Outcome != "" {
		fmt.Fprintf(&b, "**Outcome:** %s\n", e.Outcome)
	}
	b.WriteString("\n---\n")
	for _, msg := range e.Conversation {
		title := "User"
		if msg.Role == RoleAssistant {
			title = "Assistant"
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", title, strings.TrimRight(msg.Text, "\n"))
	}
	return b.String()
}
