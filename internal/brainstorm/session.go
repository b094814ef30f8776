// Package brainstorm runs multi-turn design conversations with the claude
// CLI. Each turn is a separate claude process in a tmux session; the
// conversation continues across turns through claude's --resume token.
package brainstorm

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusResponding Status = "responding"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Roles used in a conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Session is the live conversation for one chat.
type Session struct {
	ChatID        int64     `json:"chat_id"`
	Project       string    `json:"project"`
	ProjectPath   string    `json:"project_path"`
	SessionID     string    `json:"session_id,omitempty"`
	TmuxSession   string    `json:"tmux_session"`
	OutputFile    string    `json:"output_file"`
	InitialPrompt string    `json:"initial_prompt"`
	StartedAt     time.Time `json:"started_at"`
	Status        Status    `json:"status"`
	LastResponse  string    `json:"last_response,omitempty"`
	Conversation  []Message `json:"conversation,omitempty"`
}

// idle reports whether no turn is in flight, so a new one may start.
func (s *Session) idle() bool {
	return s.Status == StatusReady || s.Status == StatusError
}

func (s *Session) clone() *Session {
	c := *s
	c.Conversation = append([]Message(nil), s.Conversation...)
	return &c
}

// Code tags an Update. The empty code is a successful final response.
type Code string

const (
	CodeOK Code = ""

	// Progress codes.
	CodeStarting Code = "starting"
	CodeThinking Code = "thinking"

	// Error codes.
	ErrSessionActive Code = "session_active"
	ErrStartFailed   Code = "start_failed"
	ErrTimeout       Code = "timeout"
	ErrNoSession     Code = "no_session"
	ErrNotReady      Code = "not_ready"
	ErrNoResult      Code = "no_result"
	ErrClaudeError   Code = "claude_error"
)

// IsError reports whether c is one of the error codes.
func (c Code) IsError() bool {
	switch c {
	case ErrSessionActive, ErrStartFailed, ErrTimeout, ErrNoSession,
		ErrNotReady, ErrNoResult, ErrClaudeError:
		return true
	}
	return false
}

// Update is one step of a streaming operation. Exactly one update per
// operation has Final set, and it is always the last.
type Update struct {
	Code  Code   `json:"code,omitempty"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// ProgressFunc receives non-final updates. It may be nil.
type ProgressFunc func(Update)

func (f ProgressFunc) emit(code Code, text string) {
	if f != nil {
		f(Update{Code: code, Text: text})
	}
}

func final(code Code, text string) Update {
	return Update{Code: code, Text: text, Final: true}
}

// FinishResult is the outcome of Finish.
type FinishResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Response string `json:"response,omitempty"`
	Path     string `json:"path,omitempty"`
}

const (
	MsgSessionActive = "Brainstorming session already active. Finish or cancel the current one first."
	MsgStartFailed   = "Failed to start Claude"
	MsgNoSession     = "No active brainstorming session. Use /brainstorming <prompt>."
	MsgNotReady      = "Brainstorming session is not ready."
	MsgTimeout       = "Timeout waiting for Claude response"
	MsgNoResult      = "Claude ended without result:\n%s"
	MsgNoResponse    = "Claude ended without response"
	MsgClaudeError   = "Claude error: %s"
	MsgStarting      = "Starting Claude..."
	MsgThinking      = "Claude thinking..."
	MsgRoadmapSaved  = "Roadmap saved to %s"
)

// Prompts sent to claude.
const (
	brainstormPrefix = "/brainstorming CONTEXT: This is a Telegram brainstorming session. " +
		"DO NOT write code, create files, or make commits. " +
		"Focus only on discussion and design exploration. " +
		"The user will send /done when ready to save the final IDEA. " +
		"Until then, continue the conversation naturally.\n\n"

	summaryPrompt = "Summarize our brainstorming session. Write a clear project description " +
		"with goals and key decisions. Write only the summary content, no extra text."

	resumePrompt = "We are resuming our earlier brainstorming session. " +
		"Briefly recap where we left off and ask what to explore next."
)
