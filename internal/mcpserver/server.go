// Package mcpserver exposes loopbot to coding agents as MCP tools over
// stdio. Every tool is a thin call into a running loopbot server.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sjoeboo/loopbot/internal/api"
	"github.com/sjoeboo/loopbot/internal/brainstorm"
	"github.com/sjoeboo/loopbot/internal/logging"
	"github.com/sjoeboo/loopbot/internal/task"
)

var mcpLog = logging.ForComponent(logging.CompMCP)

// Backend is the slice of the API client the tools use.
type Backend interface {
	StartTask(ctx context.Context, req api.StartTaskRequest) (task.StartResult, error)
	Tasks(ctx context.Context) ([]api.TaskView, error)
	Queue(ctx context.Context, project string) ([]task.QueuedTask, error)
	CancelQueued(ctx context.Context, project, id string) error
	History(ctx context.Context, project string) ([]task.HistoryEntry, error)
	BrainstormHistory(ctx context.Context, project string) ([]brainstorm.HistoryEntry, error)
}

type tools struct {
	backend Backend
}

// New builds the MCP server with every loopbot tool registered.
func New(backend Backend, version string) *server.MCPServer {
	s := server.NewMCPServer("loopbot", version, server.WithToolCapabilities(false))
	t := &tools{backend: backend}

	s.AddTool(mcp.NewTool("start_task",
		mcp.WithDescription("Start a loop run for a project, or queue it if the project is busy"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project directory name under the projects root")),
		mcp.WithString("mode", mcp.Required(), mcp.Enum("plan", "build"), mcp.Description("plan or build")),
		mcp.WithNumber("iterations", mcp.Required(), mcp.Description("Number of loop iterations")),
		mcp.WithString("idea", mcp.Description("Optional idea passed to the loop with -I")),
	), t.startTask)

	s.AddTool(mcp.NewTool("task_status",
		mcp.WithDescription("List running loop tasks with their current iteration"),
	), t.taskStatus)

	s.AddTool(mcp.NewTool("task_queue",
		mcp.WithDescription("List the queued loop runs of a project in FIFO order"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	), t.taskQueue)

	s.AddTool(mcp.NewTool("cancel_queued",
		mcp.WithDescription("Remove a queued loop run"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Queued task id")),
	), t.cancelQueued)

	s.AddTool(mcp.NewTool("task_history",
		mcp.WithDescription("Finished loop runs, newest first"),
		mcp.WithString("project", mcp.Description("Only this project")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
	), t.taskHistory)

	s.AddTool(mcp.NewTool("brainstorm_history",
		mcp.WithDescription("Archived brainstorming sessions, newest first"),
		mcp.WithString("project", mcp.Description("Only this project")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries (default 10)")),
	), t.brainstormHistory)

	return s
}

// Serve runs the server on in/out until ctx is cancelled or in closes.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	mcpLog.Info("mcp_serving")
	err := server.NewStdioServer(s).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(buf)), nil
}

// failure reports backend errors as tool errors so the agent sees them.
func failure(op string, err error) (*mcp.CallToolResult, error) {
	mcpLog.Debug("mcp_tool_failed", "tool", op, "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", op, err)), nil
}

func (t *tools) startTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := req.RequireString("mode")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	iterations, err := req.RequireInt("iterations")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.backend.StartTask(ctx, api.StartTaskRequest{
		Project:    project,
		Mode:       mode,
		Iterations: iterations,
		Idea:       req.GetString("idea", ""),
	})
	if err != nil {
		return failure("start_task", err)
	}
	if !res.OK {
		return mcp.NewToolResultError(res.Message), nil
	}
	return jsonResult(res)
}

func (t *tools) taskStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := t.backend.Tasks(ctx)
	if err != nil {
		return failure("task_status", err)
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No running tasks."), nil
	}
	return jsonResult(tasks)
}

func (t *tools) taskQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := t.backend.Queue(ctx, project)
	if err != nil {
		return failure("task_queue", err)
	}
	if len(q) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Queue for %s is empty.", project)), nil
	}
	return jsonResult(q)
}

func (t *tools) cancelQueued(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.backend.CancelQueued(ctx, project, id); err != nil {
		return failure("cancel_queued", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cancelled queued task %s for %s.", id, project)), nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func (t *tools) taskHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.backend.History(ctx, req.GetString("project", ""))
	if err != nil {
		return failure("task_history", err)
	}
	return jsonResult(limit(entries, req.GetInt("limit", 20)))
}

func (t *tools) brainstormHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.backend.BrainstormHistory(ctx, req.GetString("project", ""))
	if err != nil {
		return failure("brainstorm_history", err)
	}
	// Full conversations are too large for a tool result.
	for i := range entries {
		entries[i].Conversation = nil
	}
	return jsonResult(limit(entries, req.GetInt("limit", 10)))
}
