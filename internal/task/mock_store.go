package task

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/phrazzld/compliance-tasks/internal/store"
)

// ErrMockTaskNotFound is returned by MockStore for unknown ids. It matches
// store.ErrTaskNotFound like the database store's error does.
var ErrMockTaskNotFound = store.ErrTaskNotFound

// MockStore is an in-memory Store for tests. It enforces the same status
// transitions as the database store. The *Fn hooks, when set, run before
// the default behavior and short-circuit it by returning a non-nil error.
type MockStore struct {
	mu     sync.Mutex
	tasks  map[int64]*AgentTask
	nextID int64
	now    func() time.Time

	ListPendingFn    func(ctx context.Context, limit int) error
	MarkRunningFn    func(ctx context.Context, id int64) error
	UpdateProgressFn func(ctx context.Context, id int64, progress int) error
	FinishFn         func(ctx context.Context, id int64, status Status) error

	// counters useful for assertions
	listPendingCalls int
	markRunningCalls map[int64]int
}

// NewMockStore creates an empty MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		tasks:            make(map[int64]*AgentTask),
		markRunningCalls: make(map[int64]int),
		now:              time.Now,
	}
}

// Create persists a new pending task
func (s *MockStore) Create(_ context.Context, nt NewTask) (*AgentTask, error) {
	if err := nt.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	t := &AgentTask{
		ID:        s.nextID,
		Type:      nt.Type,
		Status:    StatusPending,
		Title:     nt.Title,
		Payload:   maps.Clone(nt.Payload),
		CreatedBy: nt.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.Payload == nil {
		t.Payload = map[string]any{}
	}
	if nt.Description != "" {
		d := nt.Description
		t.Description = &d
	}
	s.tasks[t.ID] = t
	return t.Clone(), nil
}

// Get returns a copy of the task with the given id
func (s *MockStore) Get(_ context.Context, id int64) (*AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrMockTaskNotFound
	}
	return t.Clone(), nil
}

// List returns tasks matching filter, newest first
func (s *MockStore) List(_ context.Context, filter ListFilter) ([]*AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*AgentTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != 0 && t.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b *AgentTask) int {
		return int(b.ID - a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListPending returns up to limit pending tasks, oldest first
func (s *MockStore) ListPending(ctx context.Context, limit int) ([]*AgentTask, error) {
	s.mu.Lock()
	s.listPendingCalls++
	hook := s.ListPendingFn
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, limit); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AgentTask, 0)
	for _, t := range s.tasks {
		if t.Status == StatusPending {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *AgentTask) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRunning moves a pending task to running
func (s *MockStore) MarkRunning(ctx context.Context, id int64) (*AgentTask, error) {
	s.mu.Lock()
	s.markRunningCalls[id]++
	hook := s.MarkRunningFn
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.transition(id, StatusRunning)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t.StartedAt = &now
	return t.Clone(), nil
}

// UpdateProgress raises progress on a running task
func (s *MockStore) UpdateProgress(ctx context.Context, id int64, progress int) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	s.mu.Lock()
	hook := s.UpdateProgressFn
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, id, progress); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrMockTaskNotFound
	}
	if t.Status != StatusRunning {
		return nil
	}
	if progress > t.Progress {
		t.Progress = progress
		t.UpdatedAt = s.now().UTC()
	}
	return nil
}

// Complete moves a running task to completed
func (s *MockStore) Complete(ctx context.Context, id int64, result map[string]any) (*AgentTask, error) {
	if err := s.finishHook(ctx, id, StatusCompleted); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.transition(id, StatusCompleted)
	if err != nil {
		return nil, err
	}
	t.Result = maps.Clone(result)
	t.Progress = 100
	s.stampCompleted(t)
	return t.Clone(), nil
}

// Fail moves a running task to failed
func (s *MockStore) Fail(ctx context.Context, id int64, message string) (*AgentTask, error) {
	if err := s.finishHook(ctx, id, StatusFailed); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.transition(id, StatusFailed)
	if err != nil {
		return nil, err
	}
	t.ErrorMessage = &message
	s.stampCompleted(t)
	return t.Clone(), nil
}

// Cancel moves a running task to cancelled
func (s *MockStore) Cancel(ctx context.Context, id int64) (*AgentTask, error) {
	if err := s.finishHook(ctx, id, StatusCancelled); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.transition(id, StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.stampCompleted(t)
	return t.Clone(), nil
}

// FailOrphaned fails every running task
func (s *MockStore) FailOrphaned(_ context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if t.Status != StatusRunning {
			continue
		}
		t.Status = StatusFailed
		msg := message
		t.ErrorMessage = &msg
		s.stampCompleted(t)
		n++
	}
	return n, nil
}

// Put stores t as-is, bypassing lifecycle checks. Used to seed fixtures.
func (s *MockStore) Put(t *AgentTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID > s.nextID {
		s.nextID = t.ID
	}
	s.tasks[t.ID] = t.Clone()
}

// ListPendingCalls returns how often ListPending has been called
func (s *MockStore) ListPendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPendingCalls
}

// MarkRunningCalls returns how often MarkRunning was called for id
func (s *MockStore) MarkRunningCalls(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRunningCalls[id]
}

func (s *MockStore) finishHook(ctx context.Context, id int64, status Status) error {
	s.mu.Lock()
	hook := s.FinishFn
	s.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, id, status)
}

// transition must be called with s.mu held.
func (s *MockStore) transition(id int64, next Status) (*AgentTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrMockTaskNotFound
	}
	if !t.Status.CanTransitionTo(next) {
		return nil, &TransitionError{ID: id, From: t.Status, To: next}
	}
	t.Status = next
	t.UpdatedAt = s.now().UTC()
	return t, nil
}

func (s *MockStore) stampCompleted(t *AgentTask) {
	now := s.now().UTC()
	t.CompletedAt = &now
	t.UpdatedAt = now
}
