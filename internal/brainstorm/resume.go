package brainstorm

import (
	"context"
	"strings"
)

// ResumeArchivedSession reopens an archived conversation for chatID. The
// new session starts with the archived conversation and continues claude's
// own session through the archived resume token.
func (m *Manager) ResumeArchivedSession(ctx context.Context, chatID int64, project, projectPath string, entry HistoryEntry, progress ProgressFunc) Update {
	if entry.SessionID == "" {
		return final(ErrNotReady, MsgNotReady)
	}
	return m.open(ctx, &Session{
		ChatID:        chatID,
		Project:       project,
		ProjectPath:   projectPath,
		SessionID:     entry.SessionID,
		InitialPrompt: strings.TrimSuffix(entry.Topic, "..."),
		Conversation:  append([]Message(nil), entry.Conversation...),
	}, resumePrompt, resumePrompt, progress)
}
