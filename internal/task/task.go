package task

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Status represents the current lifecycle state of an agent task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// The only legal edges are pending→running and running→{completed,failed,cancelled}.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Type identifies which handler executes a task.
type Type string

// Task types understood by the compliance handlers.
const (
	TypeEvidenceCollection Type = "evidence_collection"
	TypeEvidenceUpload     Type = "evidence_upload"
	TypeComplianceAnalysis Type = "compliance_analysis"
	TypeReportGeneration   Type = "report_generation"
)

// KnownTypes returns the task types with built-in handlers, in a stable order.
func KnownTypes() []Type {
	return []Type{
		TypeEvidenceCollection,
		TypeEvidenceUpload,
		TypeComplianceAnalysis,
		TypeReportGeneration,
	}
}

// AgentTask is the persisted unit of asynchronous work.
//
// Title, Description and Payload are fixed at creation. Result and
// ErrorMessage are each written at most once, when the task reaches a
// terminal state.
type AgentTask struct {
	ID           int64          `json:"id"`
	Type         Type           `json:"task_type"`
	Status       Status         `json:"status"`
	Title        string         `json:"title"`
	Description  *string        `json:"description"`
	Payload      map[string]any `json:"payload"`
	Result       map[string]any `json:"result"`
	ErrorMessage *string        `json:"error_message"`
	Progress     int            `json:"progress"`
	CreatedBy    int64          `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
}

// Clone returns a copy of t that shares no mutable state with it.
// Nested values inside Payload and Result are copied shallowly.
func (t *AgentTask) Clone() *AgentTask {
	if t == nil {
		return nil
	}
	c := *t
	c.Payload = maps.Clone(t.Payload)
	c.Result = maps.Clone(t.Result)
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	if t.ErrorMessage != nil {
		m := *t.ErrorMessage
		c.ErrorMessage = &m
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		ca := *t.CompletedAt
		c.CompletedAt = &ca
	}
	return &c
}

// NewTask holds the caller-supplied fields of a task about to be created.
type NewTask struct {
	Type        Type           `validate:"required"`
	Title       string         `validate:"required,max=255"`
	Description string         `validate:"max=2000"`
	Payload     map[string]any `validate:"-"`
	CreatedBy   int64          `validate:"required,gt=0"`
}

// Validate checks the caller-supplied fields.
func (n NewTask) Validate() error {
	if err := validate.Struct(n); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return nil
}

// ListFilter narrows List queries. Zero values mean "any".
type ListFilter struct {
	Status    Status
	CreatedBy int64
	Limit     int
}

// Handler performs the work of one task type. It receives the task id, the
// immutable payload (never nil) and the store, which it may use to report
// progress. A returned error fails the task with the error's message.
type Handler func(ctx context.Context, taskID int64, payload map[string]any, store Store) (map[string]any, error)

// ResultFailure reports whether a handler result carries an explicit
// failure indicator ("success": false) and returns its message.
func ResultFailure(result map[string]any) (string, bool) {
	success, ok := result["success"].(bool)
	if !ok || success {
		return "", false
	}
	if msg, ok := result["error"].(string); ok && msg != "" {
		return msg, true
	}
	return "task reported failure", true
}

// Store defines the persistence contract the worker relies on
type Store interface {
	// Create persists a new task in the pending state
	Create(ctx context.Context, t NewTask) (*AgentTask, error)

	// Get returns a single task by id
	Get(ctx context.Context, id int64) (*AgentTask, error)

	// List returns tasks matching the filter, newest first
	List(ctx context.Context, filter ListFilter) ([]*AgentTask, error)

	// ListPending returns up to limit pending tasks, oldest first
	ListPending(ctx context.Context, limit int) ([]*AgentTask, error)

	// MarkRunning moves a pending task to running and stamps started_at
	MarkRunning(ctx context.Context, id int64) (*AgentTask, error)

	// UpdateProgress raises the progress of a running task; it never lowers it
	UpdateProgress(ctx context.Context, id int64, progress int) error

	// Complete moves a running task to completed with the given result
	Complete(ctx context.Context, id int64, result map[string]any) (*AgentTask, error)

	// Fail moves a running task to failed with the given message
	Fail(ctx context.Context, id int64, message string) (*AgentTask, error)

	// Cancel moves a running task to cancelled
	Cancel(ctx context.Context, id int64) (*AgentTask, error)

	// FailOrphaned fails every task left running by a previous process
	// and returns how many were affected
	FailOrphaned(ctx context.Context, message string) (int64, error)
}

// Publisher receives the final snapshot of each task that reaches a terminal state.
type Publisher interface {
	Publish(t *AgentTask)
}

// Notifier delivers "new work exists" hints. Listen blocks until ctx is
// done, calling wake for every hint; it is expected to survive connection
// loss on its own.
type Notifier interface {
	Listen(ctx context.Context, wake func()) error
}

// MetricsRecorder observes task executions.
type MetricsRecorder interface {
	TaskStarted(ctx context.Context, taskType Type)
	TaskFinished(ctx context.Context, taskType Type, status Status, elapsed time.Duration)
}
