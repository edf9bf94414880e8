package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/compliance-tasks/internal/task"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 100

// Subscription is one principal's live update channel. C is closed when the
// subscription is replaced, unsubscribed or the broadcaster is closed.
type Subscription struct {
	ID          uuid.UUID
	PrincipalID int64
	C           <-chan TaskUpdate

	ch     chan TaskUpdate
	closed bool
}

// BroadcasterStats counts deliveries since creation.
type BroadcasterStats struct {
	Subscribers int   `json:"subscribers"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

// Broadcaster routes finished tasks to the subscriber of the principal that
// created them. It implements task.Publisher.
type Broadcaster struct {
	mu         sync.Mutex
	subs       map[int64]*Subscription
	bufferSize int
	closed     bool
	logger     *slog.Logger

	delivered atomic.Int64
	dropped   atomic.Int64
}

var _ task.Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a Broadcaster whose subscriptions buffer up to
// bufferSize updates.
func NewBroadcaster(bufferSize int, logger *slog.Logger) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:       make(map[int64]*Subscription),
		bufferSize: bufferSize,
		logger:     logger.With(slog.String("component", "broadcaster")),
	}
}

// Subscribe registers a new subscription for principal. Any earlier
// subscription of the same principal is closed and replaced.
func (b *Broadcaster) Subscribe(principal int64) *Subscription {
	ch := make(chan TaskUpdate, b.bufferSize)
	sub := &Subscription{
		ID:          uuid.New(),
		PrincipalID: principal,
		C:           ch,
		ch:          ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.close()
		return sub
	}
	if old, ok := b.subs[principal]; ok {
		old.close()
		b.logger.Debug("replaced subscription",
			slog.Int64("principal", principal),
			slog.String("old_subscription", old.ID.String()))
	}
	b.subs[principal] = sub
	b.logger.Debug("subscribed",
		slog.Int64("principal", principal),
		slog.String("subscription", sub.ID.String()))
	return sub
}

// Unsubscribe removes sub if it is still the principal's current
// subscription. Stale subscriptions are ignored.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.subs[sub.PrincipalID]; ok && current == sub {
		delete(b.subs, sub.PrincipalID)
		sub.close()
	}
}

// Publish queues an update for the task's creator without blocking.
func (b *Broadcaster) Publish(t *task.AgentTask) {
	if t == nil {
		return
	}
	update := NewTaskUpdate(t)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[t.CreatedBy]
	if !ok {
		b.dropped.Add(1)
		b.logger.Debug("no subscriber for task update",
			slog.Int64("task_id", t.ID),
			slog.Int64("principal", t.CreatedBy))
		return
	}

	select {
	case sub.ch <- update:
		b.delivered.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("subscriber buffer full, dropping task update",
			slog.Int64("task_id", t.ID),
			slog.Int64("principal", t.CreatedBy),
			slog.String("subscription", sub.ID.String()))
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns delivery counters.
func (b *Broadcaster) Stats() BroadcasterStats {
	return BroadcasterStats{
		Subscribers: b.SubscriberCount(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Close closes every subscription. Later subscriptions are closed on
// creation and later updates are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for principal, sub := range b.subs {
		sub.close()
		delete(b.subs, principal)
	}
}

// close must be called with the broadcaster lock held.
func (s *Subscription) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
