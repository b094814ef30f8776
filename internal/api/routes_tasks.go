package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sjoeboo/loopbot/internal/git"
	"github.com/sjoeboo/loopbot/internal/notify"
	"github.com/sjoeboo/loopbot/internal/project"
	"github.com/sjoeboo/loopbot/internal/task"
	"github.com/sjoeboo/loopbot/internal/tmux"
)

// TaskView is an active task with its live iteration.
type TaskView struct {
	task.Task
	Iteration    int    `json:"iteration"`
	HasIteration bool   `json:"has_iteration"`
	Elapsed      string `json:"elapsed"`
}

// StartTaskRequest is the body of POST /api/tasks. Mode is "plan" or
// "build".
type StartTaskRequest struct {
	Project    string `json:"project"`
	Mode       string `json:"mode"`
	Iterations int    `json:"iterations"`
	Idea       string `json:"idea,omitempty"`
}

// Pane is a capture of a running session's screen.
type Pane struct {
	Session         string `json:"session"`
	Content         string `json:"content"`
	WaitingForInput bool   `json:"waiting_for_input"`
}

// Diff is the change summary of a project over the configured range.
type Diff struct {
	Range string         `json:"range"`
	Stats *git.DiffStats `json:"stats"`
	Patch string         `json:"patch"`
}

// WorktreeRequest is the body of POST /api/projects/{project}/worktrees.
type WorktreeRequest struct {
	Suffix string `json:"suffix"`
}

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("GET /api/projects", s.handleProjects)
	s.mux.HandleFunc("GET /api/projects/{project}/diff", s.handleDiff)
	s.mux.HandleFunc("POST /api/projects/{project}/worktrees", s.handleWorktree)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleStartTask)
	s.mux.HandleFunc("GET /api/tasks/{project}", s.handleGetTask)
	s.mux.HandleFunc("GET /api/tasks/{project}/pane", s.handlePane)
	s.mux.HandleFunc("GET /api/queues", s.handleQueues)
	s.mux.HandleFunc("GET /api/queues/{project}", s.handleQueue)
	s.mux.HandleFunc("DELETE /api/queues/{project}/{id}", s.handleCancelQueued)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
}

func (s *Server) findProject(ctx context.Context, name string) (*project.Project, error) {
	return project.Find(ctx, s.deps.ProjectsRoot, name)
}

// resolveProject writes the error response itself and returns nil when the
// name does not resolve.
func (s *Server) resolveProject(w http.ResponseWriter, r *http.Request, name string) *project.Project {
	p, err := s.findProject(r.Context(), name)
	if err != nil {
		var nf *project.NotFoundError
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, "PROJECT_NOT_FOUND", err.Error(), nf.Suggestions...)
			return nil
		}
		respondError(w, http.StatusInternalServerError, "PROJECT_LOOKUP_FAILED", err.Error())
		return nil
	}
	return p
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := project.List(r.Context(), s.deps.ProjectsRoot)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "PROJECT_LIST_FAILED", err.Error())
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	respondOK(w, projects)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	p := s.resolveProject(w, r, r.PathValue("project"))
	if p == nil {
		return
	}
	rng := r.URL.Query().Get("range")
	if rng == "" {
		rng = s.deps.DiffRange
	}
	patch, err := git.RangeDiff(r.Context(), p.Path, rng)
	if err != nil {
		respondError(w, http.StatusBadGateway, "GIT_FAILED", err.Error())
		return
	}
	stats, err := git.ParseDiffStats(patch)
	if err != nil {
		respondError(w, http.StatusBadGateway, "DIFF_PARSE_FAILED", err.Error())
		return
	}
	respondOK(w, Diff{Range: rng, Stats: stats, Patch: patch})
}

func (s *Server) handleWorktree(w http.ResponseWriter, r *http.Request) {
	var req WorktreeRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := git.ValidateBranchName(req.Suffix); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BRANCH", err.Error())
		return
	}
	p := s.resolveProject(w, r, r.PathValue("project"))
	if p == nil {
		return
	}
	msg, err := project.CreateWorktree(r.Context(), s.deps.ProjectsRoot, p, req.Suffix)
	if err != nil {
		respondError(w, http.StatusConflict, "WORKTREE_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]string{"message": msg})
}

func (s *Server) view(t task.Task) TaskView {
	n, ok := s.deps.Tasks.CurrentIteration(t)
	return TaskView{Task: t, Iteration: n, HasIteration: ok, Elapsed: s.deps.Tasks.Duration(t)}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	active := s.deps.Tasks.ListActive(r.Context())
	views := make([]TaskView, 0, len(active))
	for _, t := range active {
		views = append(views, s.view(t))
	}
	respondOK(w, views)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req StartTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	mode, err := task.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_MODE", err.Error())
		return
	}
	p := s.resolveProject(w, r, req.Project)
	if p == nil {
		return
	}

	res := s.deps.Tasks.StartTask(r.Context(), task.StartRequest{
		Project:     p.Name,
		ProjectPath: p.Path,
		Mode:        mode,
		Iterations:  req.Iterations,
		Idea:        req.Idea,
	})
	s.announceStart(r, p.Name, res)

	if res.Code == task.CodeInvalid {
		respondError(w, http.StatusBadRequest, string(res.Code), res.Message)
		return
	}
	// Refusals are still a well-formed result; callers branch on Code.
	respondOK(w, res)
}

func (s *Server) announceStart(r *http.Request, projectName string, res task.StartResult) {
	if s.deps.Notifier == nil {
		return
	}
	kind := notify.KindTaskStartFailed
	switch res.Code {
	case task.CodeStarted:
		kind = notify.KindTaskStarted
	case task.CodeQueued:
		kind = notify.KindTaskQueued
	case task.CodeInvalid:
		return
	}
	ev := notify.Event{
		Kind:    kind,
		Project: projectName,
		Text:    notify.FormatStartResult(res),
		Time:    time.Now(),
		Data:    res,
	}
	if _, err := s.deps.Notifier.Send(r.Context(), ev); err != nil {
		apiLog.Warn("notify_failed", "kind", string(kind), "error", err)
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	p := s.resolveProject(w, r, r.PathValue("project"))
	if p == nil {
		return
	}
	t := s.deps.Tasks.GetTask(r.Context(), p.Path)
	if t == nil {
		respondError(w, http.StatusNotFound, "NO_TASK", "no running task for "+p.Name)
		return
	}
	respondOK(w, s.view(*t))
}

func (s *Server) handlePane(w http.ResponseWriter, r *http.Request) {
	capturer, ok := s.deps.Runner.(tmux.Capturer)
	if !ok {
		respondError(w, http.StatusNotImplemented, "NO_CAPTURE", "runner cannot capture panes")
		return
	}
	p := s.resolveProject(w, r, r.PathValue("project"))
	if p == nil {
		return
	}
	name := task.SessionName(p.Name)
	content, err := capturer.Capture(r.Context(), name, 40)
	if err != nil {
		respondError(w, http.StatusNotFound, "NO_SESSION", err.Error())
		return
	}
	respondOK(w, Pane{Session: name, Content: content, WaitingForInput: tmux.WaitingForInput(content)})
}

func (s *Server) handleQueues(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, s.deps.Tasks.Queues())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	p := s.resolveProject(w, r, r.PathValue("project"))
	if p == nil {
		return
	}
	q := s.deps.Tasks.Queue(p.Path)
	if q == nil {
		q = []task.QueuedTask{}
	}
	respondOK(w, q)
}

func (s *Server) handleCancelQueued(w http.ResponseWriter, r *http.Request) {
	p := s.resolveProject(w, r, r.PathValue("project"))
	if p == nil {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Tasks.CancelQueuedTask(p.Path, id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_QUEUED", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "CANCEL_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]string{"cancelled": id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Tasks.History(r.URL.Query().Get("project"))
	if entries == nil {
		entries = []task.HistoryEntry{}
	}
	respondOK(w, entries)
}
