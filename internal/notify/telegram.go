package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Telegram sends events to one chat through the Bot API. It never sends
// anywhere but the configured chat.
type Telegram struct {
	client  *http.Client
	apiURL  string
	token   string
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegram returns a sink limited to perSecond messages per second.
func NewTelegram(apiURL, token string, chatID int64, perSecond float64) *Telegram {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Telegram{
		client:  &http.Client{Timeout: 15 * time.Second},
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 3),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
}

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Status, e.Description)
}

func (e *APIError) badMarkdown() bool {
	return e.Status == http.StatusBadRequest && strings.Contains(e.Description, "can't parse entities")
}

// Send posts a new message, or edits ev.MessageID in place. A failed edit
// keeps the old handle; the message may have been deleted or be unchanged.
func (t *Telegram) Send(ctx context.Context, ev Event) (string, error) {
	if ev.MessageID != "" {
		id, err := strconv.ParseInt(ev.MessageID, 10, 64)
		if err == nil {
			if err := t.EditMessage(ctx, id, ev.Text); err != nil {
				notifyLog.Debug("telegram_edit_failed", "message_id", ev.MessageID, "error", err)
			}
			return ev.MessageID, nil
		}
	}
	id, err := t.SendMessage(ctx, ev.Text)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// SendMessage posts text as Markdown, retrying as plain text when Telegram
// cannot parse the markup.
func (t *Telegram) SendMessage(ctx context.Context, text string) (int64, error) {
	payload := map[string]any{"chat_id": t.chatID, "text": text, "parse_mode": "Markdown"}
	var msg apiMessage
	err := t.call(ctx, "sendMessage", payload, &msg)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.badMarkdown() {
		delete(payload, "parse_mode")
		err = t.call(ctx, "sendMessage", payload, &msg)
	}
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessage replaces the text of an earlier message.
func (t *Telegram) EditMessage(ctx context.Context, messageID int64, text string) error {
	return t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    t.chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	}, nil)
}

func (t *Telegram) call(ctx context.Context, method string, payload, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		return fmt.Errorf("telegram %s: request failed", method)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}
	var r apiResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return &APIError{Method: method, Status: resp.StatusCode, Description: "invalid response"}
	}
	if !r.OK {
		return &APIError{Method: method, Status: resp.StatusCode, Description: r.Description}
	}
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}
