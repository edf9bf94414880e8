package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/compliance-tasks/internal/api/shared"
	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/intent"
	"github.com/phrazzld/compliance-tasks/internal/platform/logger"
	"github.com/phrazzld/compliance-tasks/internal/store"
	"github.com/phrazzld/compliance-tasks/internal/task"
)

// TaskRequester turns a free-form request into a pending task.
// *intent.Orchestrator satisfies it.
type TaskRequester interface {
	CreateTask(ctx context.Context, req intent.Request) (*task.AgentTask, bool, error)
}

// TaskReader is the query side of the task store.
type TaskReader interface {
	Get(ctx context.Context, id int64) (*task.AgentTask, error)
	List(ctx context.Context, filter task.ListFilter) ([]*task.AgentTask, error)
}

// TaskHandler serves the task endpoints. Every route requires a principal.
type TaskHandler struct {
	requester TaskRequester
	tasks     TaskReader
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(requester TaskRequester, tasks TaskReader, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		requester: requester,
		tasks:     tasks,
		logger:    logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/tasks. A request with a detectable intent
// yields 202 and the pending task; one without yields 200 and created=false.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.GetPrincipalID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Principal required")
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		if !errors.Is(err, shared.ErrEmptyBody) {
			err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		HandleAPIError(w, r, err, "")
		return
	}
	if err := domain.Validate("task request", &req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	created, ok, err := h.requester.CreateTask(r.Context(), intent.Request{
		Text:       req.Text,
		Attachment: req.Attachment,
		Principal:  principal,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}
	if !ok {
		log.Debug("no task intent detected", slog.Int64("principal", principal))
		shared.RespondWithJSON(w, r, http.StatusOK, CreateTaskResponse{
			Created: false,
			Message: "No task intent detected",
		})
		return
	}

	log.Info("task requested",
		slog.Int64("task_id", created.ID),
		slog.String("task_type", string(created.Type)),
		slog.Int64("principal", principal))
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{
		Created: true,
		Task:    created,
	})
}

// GetTask handles GET /api/tasks/{id}. Tasks of other principals are
// reported as not found.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.GetPrincipalID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Principal required")
		return
	}

	id, err := parseIDParam(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	if t.CreatedBy != principal {
		HandleAPIError(w, r, store.ErrTaskNotFound, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// ListTasks handles GET /api/tasks?status=&limit= for the calling principal.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.GetPrincipalID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Principal required")
		return
	}

	filter, err := parseListFilter(r, principal)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*task.AgentTask{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{Tasks: tasks, Count: len(tasks)})
}
