package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/compliance-tasks/internal/platform/logger"
	"github.com/phrazzld/compliance-tasks/internal/store"
	"github.com/phrazzld/compliance-tasks/internal/task"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// taskColumns is the projection shared by every query that returns a task
const taskColumns = `id, task_type, status, title, description, payload, result,
	error_message, progress, created_by, created_at, updated_at, started_at, completed_at`

// TaskStore implements the task.Store interface using PostgreSQL.
//
// Every status change is a single UPDATE guarded by the expected current
// status, so a write that would break the pending → running → terminal
// order matches no rows and is reported as a *task.TransitionError.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewTaskStore creates a new TaskStore
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ task.Store = (*TaskStore)(nil)

// Create inserts a new pending task. The insert trigger announces the new
// row on the new_task channel.
func (s *TaskStore) Create(ctx context.Context, nt task.NewTask) (*task.AgentTask, error) {
	if err := nt.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	payload, err := jsonParam(nt.Payload)
	if err != nil {
		return nil, err
	}

	var description sql.NullString
	if nt.Description != "" {
		description = sql.NullString{String: nt.Description, Valid: true}
	}

	query := `
		INSERT INTO agent_tasks (task_type, status, title, description, payload, created_by)
		VALUES ($1, 'pending', $2, $3, $4::jsonb, $5)
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query,
		string(nt.Type), nt.Title, description, payload, nt.CreatedBy))
	if err != nil {
		s.log(ctx).Error("failed to create task",
			slog.String("task_type", string(nt.Type)),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "create", "insert failed", MapError(err, nil))
	}

	s.log(ctx).Debug("task created",
		slog.Int64("task_id", t.ID),
		slog.String("task_type", string(t.Type)))
	return t, nil
}

// Get returns the task with the given id, or store.ErrTaskNotFound.
func (s *TaskStore) Get(ctx context.Context, id int64) (*task.AgentTask, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE id = $1`
	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, MapError(err, store.ErrTaskNotFound)
	}
	return t, nil
}

// List returns tasks matching filter, newest first.
func (s *TaskStore) List(ctx context.Context, filter task.ListFilter) ([]*task.AgentTask, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CreatedBy != 0 {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`SELECT ` + taskColumns + ` FROM agent_tasks`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return s.query(ctx, b.String(), args...)
}

// ListPending returns up to limit pending tasks, oldest first.
func (s *TaskStore) ListPending(ctx context.Context, limit int) ([]*task.AgentTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT ` + taskColumns + `
		FROM agent_tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1`
	return s.query(ctx, query, limit)
}

// MarkRunning moves a pending task to running and stamps started_at.
func (s *TaskStore) MarkRunning(ctx context.Context, id int64) (*task.AgentTask, error) {
	query := `
		UPDATE agent_tasks
		SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + taskColumns
	return s.transition(ctx, id, task.StatusRunning, query, id)
}

// UpdateProgress raises progress on a running task. Lower values and
// updates to tasks that are not running are ignored.
func (s *TaskStore) UpdateProgress(ctx context.Context, id int64, progress int) error {
	if progress < 0 || progress > 100 {
		return task.ErrInvalidProgress
	}

	query := `
		UPDATE agent_tasks
		SET progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1 AND status = 'running'`
	res, err := s.db.ExecContext(ctx, query, id, progress)
	if err != nil {
		return store.NewStoreError("task", "update_progress", "update failed", MapError(err, nil))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		// distinguish a missing task from one that is no longer running
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Complete moves a running task to completed, storing result and forcing
// progress to 100.
func (s *TaskStore) Complete(ctx context.Context, id int64, result map[string]any) (*task.AgentTask, error) {
	if result == nil {
		result = map[string]any{}
	}
	resultParam, err := jsonParam(result)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE agent_tasks
		SET status = 'completed', result = $2::jsonb, progress = 100,
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
		RETURNING ` + taskColumns
	return s.transition(ctx, id, task.StatusCompleted, query, id, resultParam)
}

// Fail moves a running task to failed with message.
func (s *TaskStore) Fail(ctx context.Context, id int64, message string) (*task.AgentTask, error) {
	query := `
		UPDATE agent_tasks
		SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
		RETURNING ` + taskColumns
	return s.transition(ctx, id, task.StatusFailed, query, id, message)
}

// Cancel moves a running task to cancelled.
func (s *TaskStore) Cancel(ctx context.Context, id int64) (*task.AgentTask, error) {
	query := `
		UPDATE agent_tasks
		SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'
		RETURNING ` + taskColumns
	return s.transition(ctx, id, task.StatusCancelled, query, id)
}

// FailOrphaned fails every task still marked running. It is only safe to
// call before the worker starts dispatching.
func (s *TaskStore) FailOrphaned(ctx context.Context, message string) (int64, error) {
	query := `
		UPDATE agent_tasks
		SET status = 'failed', error_message = $1, completed_at = now(), updated_at = now()
		WHERE status = 'running'`
	res, err := s.db.ExecContext(ctx, query, message)
	if err != nil {
		return 0, store.NewStoreError("task", "fail_orphaned", "update failed", MapError(err, nil))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// transition runs a guarded UPDATE ... RETURNING. When nothing matched it
// reloads the row to report either not-found or the conflicting status.
func (s *TaskStore) transition(
	ctx context.Context,
	id int64,
	to task.Status,
	query string,
	args ...any,
) (*task.AgentTask, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.log(ctx).Error("task status update failed",
			slog.Int64("task_id", id),
			slog.String("to", string(to)),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "set_"+string(to), "update failed", MapError(err, nil))
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &task.TransitionError{ID: id, From: current.Status, To: to}
}

func (s *TaskStore) query(ctx context.Context, query string, args ...any) ([]*task.AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "query failed", MapError(err, nil))
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*task.AgentTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "scan failed", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "iteration failed", err)
	}
	return tasks, nil
}

func (s *TaskStore) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, s.logger)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.AgentTask, error) {
	var (
		t            task.AgentTask
		taskType     string
		status       string
		description  sql.NullString
		payload      []byte
		result       []byte
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(
		&t.ID, &taskType, &status, &t.Title, &description, &payload, &result,
		&errorMessage, &t.Progress, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = task.Type(taskType)
	t.Status = task.Status(status)
	if description.Valid {
		t.Description = &description.String
	}
	if errorMessage.Valid {
		t.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if t.Payload, err = decodeJSONObject(payload); err != nil {
		return nil, fmt.Errorf("task %d payload: %w", t.ID, err)
	}
	if t.Result, err = decodeJSONObject(result); err != nil {
		return nil, fmt.Errorf("task %d result: %w", t.ID, err)
	}
	return &t, nil
}

// jsonParam encodes m for a $n::jsonb placeholder; nil becomes SQL NULL.
func jsonParam(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot encode json: %v", store.ErrInvalidEntity, err)
	}
	return string(raw), nil
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
