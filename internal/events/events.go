package events

import (
	"github.com/phrazzld/compliance-tasks/internal/task"
)

// Event names written to the event stream.
const (
	EventConnected  = "connected"
	EventTaskUpdate = "task_update"
	EventKeepalive  = "keepalive"
)

// TaskUpdate is the body of a task_update event.
type TaskUpdate struct {
	TaskID       int64          `json:"task_id"`
	TaskType     task.Type      `json:"task_type"`
	Status       task.Status    `json:"status"`
	Result       map[string]any `json:"result"`
	ErrorMessage *string        `json:"error_message"`
	Progress     int            `json:"progress"`
}

// NewTaskUpdate builds the update for a task snapshot.
func NewTaskUpdate(t *task.AgentTask) TaskUpdate {
	c := t.Clone()
	return TaskUpdate{
		TaskID:       c.ID,
		TaskType:     c.Type,
		Status:       c.Status,
		Result:       c.Result,
		ErrorMessage: c.ErrorMessage,
		Progress:     c.Progress,
	}
}
