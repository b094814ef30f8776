package brainstorm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportSession(t *testing.T) {
	c := newFakeClaude(t)
	m, root := newTestManager(t, c)

	require.NoError(t, m.history.Append(HistoryEntry{
		Project:    "myapp",
		Topic:      "Feature design",
		StartedAt:  time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 15, 15, 45, 0, 0, time.UTC),
		Outcome:    OutcomeSaved,
		Conversation: []Message{
			{Role: RoleUser, Text: "Design a feature"},
			{Role: RoleAssistant, Text: "OK\n"},
		},
	}))

	path, err := m.ExportSession(0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "myapp", "docs", "brainstorms", "myapp_20260315_1545.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Brainstorm: Feature design\n")
	assert.Contains(t, content, "**Project:** myapp\n")
	assert.Contains(t, content, "**Date:** 2026-03-15 14:30\n")
	assert.Contains(t, content, "## User\n\nDesign a feature\n")
	assert.Contains(t, content, "## Assistant\n\nOK\n")
}

func TestExportSessionIndexesNewestFirst(t *testing.T) {
	c := newFakeClaude(t)
	m, _ := newTestManager(t, c)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	conv := []Message{{Role: RoleUser, Text: "q"}, {Role: RoleAssistant, Text: "a"}}

	require.NoError(t, m.history.Append(HistoryEntry{Project: "old", FinishedAt: base, Conversation: conv}))
	require.NoError(t, m.history.Append(HistoryEntry{Project: "new", FinishedAt: base.Add(24 * time.Hour), Conversation: conv}))

	path, err := m.ExportSession(0)
	require.NoError(t, err)
	assert.Equal(t, "new_20260102_0900.md", filepath.Base(path))

	path, err = m.ExportSession(1)
	require.NoError(t, err)
	assert.Equal(t, "old_20260101_0900.md", filepath.Base(path))
}

func TestExportSessionFallsBackToStartTime(t *testing.T) {
	c := newFakeClaude(t)
	m, _ := newTestManager(t, c)
	require.NoError(t, m.history.Append(HistoryEntry{
		Project:      "p",
		StartedAt:    time.Date(2026, 2, 10, 9, 5, 0, 0, time.UTC),
		Conversation: []Message{{Role: RoleUser, Text: "hi"}},
	}))

	path, err := m.ExportSession(0)
	require.NoError(t, err)
	assert.Equal(t, "p_20260210_0905.md", filepath.Base(path))
}

func TestExportSessionErrors(t *testing.T) {
	c := newFakeClaude(t)
	m, _ := newTestManager(t, c)

	_, err := m.ExportSession(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, m.history.Append(HistoryEntry{Project: "p", Topic: "empty"}))
	_, err = m.ExportSession(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = m.ExportSession(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = m.ExportSession(0)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestHistoryEntryTruncation(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'é'
	}
	resp := string(long) + string(long) + string(long)
	s := &Session{
		Project:       "p",
		InitialPrompt: string(long),
		LastResponse:  resp,
		Conversation: []Message{
			{Role: RoleUser, Text: "q1"}, {Role: RoleAssistant, Text: "a1"},
			{Role: RoleUser, Text: "q2"}, {Role: RoleAssistant, Text: "a2"},
			{Role: RoleUser, Text: "q3"}, {Role: RoleAssistant, Text: "a3"},
		},
		SessionID: "s",
	}
	e := newHistoryEntry(s, OutcomeSaved, time.Now())
	assert.Equal(t, string(long[:100])+"...", e.Topic)
	assert.Len(t, []rune(e.LastResponse), 500)
	assert.Equal(t, 3, e.Turns)
	assert.Equal(t, "s", e.SessionID)

	short := newHistoryEntry(&Session{InitialPrompt: "short"}, OutcomeCancelled, time.Now())
	assert.Equal(t, "short", short.Topic)
	assert.Equal(t, 0, short.Turns)
}

func TestHistoryListOrderAndFilter(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), ".brainstorm_history.json"))
	assert.Empty(t, h.List(""))

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, h.Append(HistoryEntry{Project: "a", FinishedAt: base}))
	require.NoError(t, h.Append(HistoryEntry{Project: "b", FinishedAt: base.AddDate(0, 1, 0)}))
	require.NoError(t, h.Append(HistoryEntry{Project: "a", FinishedAt: base.AddDate(0, 0, 14)}))

	all := h.List("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "a", "a"}, []string{all[0].Project, all[1].Project, all[2].Project})
	assert.Len(t, h.List("a"), 2)
}

func TestHistoryCorruptFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".brainstorm_history.json")
	require.NoError(t, os.WriteFile(path, []byte("not json{{{"), 0o600))
	assert.Empty(t, NewHistory(path).List(""))
}
