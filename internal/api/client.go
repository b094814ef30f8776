package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/project"
	"github.com/sjoeboo/loopbot/internal/task"
)

// Client talks to a running loopbot server.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient accepts either host:port or a full http URL.
func NewClient(addr, token string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse server address: %w", err)
	}
	return &Client{base: u, token: token, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

// Error is a non-OK API response.
type Error struct {
	Status int
	ErrorBody
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Details) > 0 {
		return msg + " (" + strings.Join(e.Details, ", ") + ")"
	}
	return msg
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &Error{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.ErrorBody = *env.Error
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) Projects(ctx context.Context) ([]project.Project, error) {
	var out []project.Project
	err := c.do(ctx, http.MethodGet, "/api/projects", nil, nil, &out)
	return out, err
}

func (c *Client) Diff(ctx context.Context, projectName, rng string) (*Diff, error) {
	q := url.Values{}
	if rng != "" {
		q.Set("range", rng)
	}
	var out Diff
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectName)+"/diff", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWorktree adds a sibling worktree of projectName on branch suffix.
func (c *Client) CreateWorktree(ctx context.Context, projectName, suffix string) (string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(projectName)+"/worktrees", nil,
		WorktreeRequest{Suffix: suffix}, &out)
	return out["message"], err
}

func (c *Client) Tasks(ctx context.Context) ([]TaskView, error) {
	var out []TaskView
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &out)
	return out, err
}

func (c *Client) Task(ctx context.Context, projectName string) (*TaskView, error) {
	var out TaskView
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(projectName), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTask returns the manager's tagged result. Refusals such as a full
// queue come back with a nil error and OK false.
func (c *Client) StartTask(ctx context.Context, req StartTaskRequest) (task.StartResult, error) {
	var out task.StartResult
	err := c.do(ctx, http.MethodPost, "/api/tasks", nil, req, &out)
	return out, err
}

func (c *Client) Pane(ctx context.Context, projectName string) (*Pane, error) {
	var out Pane
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(projectName)+"/pane", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Queues(ctx context.Context) (map[string][]task.QueuedTask, error) {
	var out map[string][]task.QueuedTask
	err := c.do(ctx, http.MethodGet, "/api/queues", nil, nil, &out)
	return out, err
}

func (c *Client) Queue(ctx context.Context, projectName string) ([]task.QueuedTask, error) {
	var out []task.QueuedTask
	err := c.do(ctx, http.MethodGet, "/api/queues/"+url.PathEscape(projectName), nil, nil, &out)
	return out, err
}

func (c *Client) CancelQueued(ctx context.Context, projectName, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/queues/"+url.PathEscape(projectName)+"/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) History(ctx context.Context, projectName string) ([]task.HistoryEntry, error) {
	q := url.Values{}
	if projectName != "" {
		q.Set("project", projectName)
	}
	var out []task.HistoryEntry
	err := c.do(ctx, http.MethodGet, "/api/history", q, nil, &out)
	return out, err
}

func (c *Client) BrainstormSessions(ctx context.Context) ([]brainstorm.Session, error) {
	var out []brainstorm.Session
	err := c.do(ctx, http.MethodGet, "/api/brainstorm/sessions", nil, nil, &out)
	return out, err
}

func (c *Client) CancelBrainstorm(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodDelete, "/api/brainstorm/sessions/"+strconv.FormatInt(chatID, 10), nil, nil, nil)
}

func (c *Client) BrainstormHistory(ctx context.Context, projectName string) ([]brainstorm.HistoryEntry, error) {
	q := url.Values{}
	if projectName != "" {
		q.Set("project", projectName)
	}
	var out []brainstorm.HistoryEntry
	err := c.do(ctx, http.MethodGet, "/api/brainstorm/history", q, nil, &out)
	return out, err
}

// ExportBrainstorm writes history entry index (newest first) as markdown
// and returns the file path.
func (c *Client) ExportBrainstorm(ctx context.Context, index int) (string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodPost, "/api/brainstorm/history/"+strconv.Itoa(index)+"/export", nil, nil, &out)
	return out["path"], err
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", path, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

// BrainstormConn is an open brainstorm websocket. Requests on one
// connection run one at a time.
type BrainstormConn struct {
	conn *websocket.Conn
}

func (c *Client) Brainstorm(ctx context.Context) (*BrainstormConn, error) {
	conn, err := c.dial(ctx, "/api/brainstorm/ws")
	if err != nil {
		return nil, err
	}
	var hello BrainstormMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("brainstorm handshake: %w", err)
	}
	return &BrainstormConn{conn: conn}, nil
}

// Do sends req and blocks until its terminal message, passing progress
// updates to onUpdate.
func (b *BrainstormConn) Do(req BrainstormRequest, onUpdate func(brainstorm.Update)) (BrainstormMessage, error) {
	if err := b.conn.WriteJSON(req); err != nil {
		return BrainstormMessage{}, fmt.Errorf("send %s: %w", req.Op, err)
	}
	for {
		var msg BrainstormMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			return BrainstormMessage{}, fmt.Errorf("read %s: %w", req.Op, err)
		}
		switch msg.Type {
		case "heartbeat", "connected":
			continue
		case "update":
			if onUpdate != nil && msg.Update != nil {
				onUpdate(*msg.Update)
			}
			continue
		}
		return msg, nil
	}
}

func (b *BrainstormConn) Close() error {
	_ = b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return b.conn.Close()
}

// Events streams notifications to fn until ctx is cancelled or the
// connection drops.
func (c *Client) Events(ctx context.Context, fn func(notify.Event)) error {
	conn, err := c.dial(ctx, "/api/events")
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg notify.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read events: %w", err)
		}
		if msg.Type == "event" && msg.Event != nil {
			fn(*msg.Event)
		}
	}
}
