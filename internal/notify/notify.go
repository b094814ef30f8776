// Package notify turns orchestration results into user-facing messages and
// delivers them to Telegram, websocket watchers and the log.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sjoeboo/loopbot/internal/logging"
)

var notifyLog = logging.ForComponent(logging.CompNotify)

// Kind identifies what an Event reports.
type Kind string

const (
	KindTaskStarted     Kind = "task_started"
	KindTaskQueued      Kind = "task_queued"
	KindTaskCompleted   Kind = "task_completed"
	KindTaskFromQueue   Kind = "task_started_from_queue"
	KindTaskProgress    Kind = "task_progress"
	KindTaskStale       Kind = "task_stale"
	KindQueueExpired    Kind = "queue_expired"
	KindBrainstorm      Kind = "brainstorm"
	KindMaintenance     Kind = "maintenance"
	KindTaskStartFailed Kind = "task_start_failed"
)

// Event is one notification. Text is Telegram-flavoured Markdown.
type Event struct {
	Kind    Kind      `json:"kind"`
	Project string    `json:"project,omitempty"`
	ChatID  int64     `json:"chat_id,omitempty"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
	// MessageID asks sinks that support it to edit this earlier message
	// instead of sending a new one.
	MessageID string `json:"message_id,omitempty"`
	// Data carries the structured payload for machine consumers.
	Data any `json:"data,omitempty"`
}

// Sink delivers events. Send returns a handle for the delivered message
// when the sink has one.
type Sink interface {
	Send(ctx context.Context, ev Event) (string, error)
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, ev Event) (string, error) {
	notifyLog.Info("notify_event", "kind", string(ev.Kind), "project", ev.Project, "chat_id", ev.ChatID)
	return "", nil
}

// Multi fans an event out to every sink. The returned handle is the first
// non-empty one.
type Multi []Sink

func (m Multi) Send(ctx context.Context, ev Event) (string, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	var (
		id   string
		errs []error
	)
	for _, s := range m {
		got, err := s.Send(ctx, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id == "" {
			id = got
		}
	}
	return id, errors.Join(errs...)
}
