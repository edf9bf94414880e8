package api

import (
	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/events"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
)

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	Text       string             `json:"text"                 validate:"required,max=4000"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// CreateTaskResponse reports whether the request produced a task.
type CreateTaskResponse struct {
	Created bool            `json:"created"`
	Task    *task.AgentTask `json:"task,omitempty"`
	Message string          `json:"message,omitempty"`
}

// TaskListResponse is the body of GET /api/tasks.
type TaskListResponse struct {
	Tasks []*task.AgentTask `json:"tasks"`
	Count int               `json:"count"`
}

// ToolListResponse is the body of GET /api/tools.
type ToolListResponse struct {
	Tools []toolclient.ToolInfo `json:"tools"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Tools    string `json:"tools"`
}

// StatsResponse is the body of GET /api/worker/stats.
type StatsResponse struct {
	Worker task.WorkerStats        `json:"worker"`
	Events events.BroadcasterStats `json:"events"`
}
