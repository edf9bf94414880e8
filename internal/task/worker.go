package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/phrazzld/compliance-tasks/internal/task")

// orphanedTaskMessage is written to tasks found running at startup.
const orphanedTaskMessage = "interrupted by worker restart"

// WorkerConfig holds configuration for the task worker
type WorkerConfig struct {
	// PollInterval bounds dispatch latency when no notification arrives
	PollInterval time.Duration

	// MaxConcurrentTasks is the global budget of simultaneously running tasks
	MaxConcurrentTasks int

	// ShutdownGracePeriod is how long Stop lets in-flight handlers finish
	// before cancelling their contexts. Zero cancels immediately.
	ShutdownGracePeriod time.Duration

	// StoreTimeout bounds each lifecycle write made on behalf of a task
	StoreTimeout time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:        5 * time.Second,
		MaxConcurrentTasks:  3,
		ShutdownGracePeriod: 30 * time.Second,
		StoreTimeout:        10 * time.Second,
	}
}

// WorkerStats is a point-in-time view of the worker's bookkeeping.
type WorkerStats struct {
	Running            int   `json:"running"`
	MaxConcurrentTasks int   `json:"max_concurrent_tasks"`
	Dispatched         int64 `json:"dispatched"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
	Cancelled          int64 `json:"cancelled"`
}

// Worker drives pending tasks to a terminal state under a global
// concurrency budget. A single Worker per store is assumed: mutual
// exclusion per task id lives in the in-memory running set only.
type Worker struct {
	store     Store
	registry  *Registry
	publisher Publisher
	notifier  Notifier
	metrics   MetricsRecorder
	config    WorkerConfig
	logger    *slog.Logger

	// wake coalesces notifications into at most one pending wake-up
	wake chan struct{}

	mu      sync.Mutex
	running map[int64]struct{}

	// inflight tracks every execution goroutine
	inflight conc.WaitGroup

	// execCtx is the parent of every handler context; cancelled only
	// when the shutdown grace period runs out
	execCtx    context.Context
	execCancel context.CancelFunc

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
}

// NewWorker creates a new Worker
func NewWorker(store Store, registry *Registry, config WorkerConfig, logger *slog.Logger) *Worker {
	logger = logger.With("component", "task_worker")

	// Apply defaults for invalid config values
	defaults := DefaultWorkerConfig()
	if config.MaxConcurrentTasks <= 0 {
		logger.Warn("invalid max concurrent tasks specified, using default",
			"specified", config.MaxConcurrentTasks,
			"default", defaults.MaxConcurrentTasks)
		config.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaults.StoreTimeout
	}
	if config.ShutdownGracePeriod < 0 {
		config.ShutdownGracePeriod = 0
	}
	if registry == nil {
		registry = NewRegistry()
	}

	execCtx, execCancel := context.WithCancel(context.Background())

	return &Worker{
		store:      store,
		registry:   registry,
		config:     config,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		running:    make(map[int64]struct{}),
		execCtx:    execCtx,
		execCancel: execCancel,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetPublisher sets the receiver of terminal task snapshots. Call before Start.
func (w *Worker) SetPublisher(p Publisher) {
	w.publisher = p
}

// SetNotifier sets the change-notification source. Call before Start.
// Without a notifier the worker relies on polling alone.
func (w *Worker) SetNotifier(n Notifier) {
	w.notifier = n
}

// SetMetrics sets the execution metrics recorder. Call before Start.
func (w *Worker) SetMetrics(m MetricsRecorder) {
	w.metrics = m
}

// RegisterHandler delegates to the worker's registry
func (w *Worker) RegisterHandler(taskType Type, fn Handler) {
	w.registry.Register(taskType, fn)
}

// Notify asks the scheduling loop to look for work now instead of waiting
// out the poll interval. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the worker's counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Running:            w.runningCount(),
		MaxConcurrentTasks: w.config.MaxConcurrentTasks,
		Dispatched:         w.dispatched.Load(),
		Completed:          w.completed.Load(),
		Failed:             w.failed.Load(),
		Cancelled:          w.cancelled.Load(),
	}
}

// Start runs the scheduling loop and the notification listener. It blocks
// until Stop is called or ctx is cancelled, and returns only after every
// in-flight execution has reached a terminal state.
func (w *Worker) Start(ctx context.Context) error {
	if w.registry.Len() == 0 {
		return ErrNoHandlers
	}
	if !w.started.CompareAndSwap(false, true) {
		return ErrWorkerStarted
	}
	defer close(w.done)

	select {
	case <-w.stopCh:
		return nil
	default:
	}

	// Tasks left running by a crashed process can never finish; fail them
	// so they do not sit in running forever.
	if n, err := w.store.FailOrphaned(ctx, orphanedTaskMessage); err != nil {
		w.logger.Error("failed to fail orphaned tasks", "error", err)
	} else if n > 0 {
		w.logger.Warn("failed tasks orphaned by previous run", "count", n)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	w.logger.Info("task worker started",
		"max_concurrent_tasks", w.config.MaxConcurrentTasks,
		"poll_interval", w.config.PollInterval,
		"handlers", w.registry.Types(),
		"notifications", w.notifier != nil)

	g, gctx := errgroup.WithContext(loopCtx)
	if w.notifier != nil {
		g.Go(func() error {
			return w.notifier.Listen(gctx, w.Notify)
		})
	}
	g.Go(func() error {
		w.loop(gctx)
		return nil
	})
	err := g.Wait()

	w.drain()
	w.logger.Info("task worker stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("task worker: %w", err)
	}
	return nil
}

// Stop signals the loop to exit and waits for all in-flight executions.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	if w.started.Load() {
		<-w.done
	}
}

// loop is the scheduling loop: dispatch, then sleep until the poll timer
// fires or a wake-up arrives.
func (w *Worker) loop(ctx context.Context) {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()

	for {
		w.drainWakeups()
		w.dispatch(ctx)

		timer.Reset(w.config.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-timer.C:
		}
	}
}

func (w *Worker) drainWakeups() {
	for {
		select {
		case <-w.wake:
		default:
			return
		}
	}
}

// dispatch claims up to the free slot count of the oldest pending tasks.
func (w *Worker) dispatch(ctx context.Context) {
	available := w.config.MaxConcurrentTasks - w.runningCount()
	if available <= 0 {
		return
	}

	tasks, err := w.store.ListPending(ctx, available)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to list pending tasks", "error", err)
		}
		return
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		if !w.claim(t.ID) {
			continue
		}
		w.dispatched.Add(1)
		w.inflight.Go(func() {
			w.execute(t)
		})
	}
}

// claim records id in the running set unless it is already there or the
// budget is exhausted.
func (w *Worker) claim(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.running[id]; ok {
		return false
	}
	if len(w.running) >= w.config.MaxConcurrentTasks {
		return false
	}
	w.running[id] = struct{}{}
	return true
}

func (w *Worker) release(id int64) {
	w.mu.Lock()
	delete(w.running, id)
	w.mu.Unlock()
}

func (w *Worker) runningCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running)
}

// IsRunning reports whether id is currently claimed by this worker.
func (w *Worker) IsRunning(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[id]
	return ok
}

// execute drives a single claimed task through its lifecycle.
func (w *Worker) execute(pending *AgentTask) {
	defer w.Notify()
	defer w.release(pending.ID)

	ctx, span := tracer.Start(w.execCtx, "task.execute", trace.WithAttributes(
		attribute.Int64("task.id", pending.ID),
		attribute.String("task.type", string(pending.Type)),
	))
	defer span.End()
	logger := w.logger.With("task_id", pending.ID, "task_type", pending.Type)

	markCtx, cancel := context.WithTimeout(ctx, w.config.StoreTimeout)
	t, err := w.store.MarkRunning(markCtx, pending.ID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			logger.Debug("task no longer pending, skipping", "error", err)
			return
		}
		logger.Error("failed to mark task running", "error", err)
		return
	}

	start := time.Now()
	if w.metrics != nil {
		w.metrics.TaskStarted(ctx, t.Type)
	}
	logger.Info("processing task")

	handler, err := w.registry.Resolve(t.Type)
	if err != nil {
		logger.Error("task dispatch failed", "error", err)
		w.finish(ctx, logger, t, start, StatusFailed, nil, err.Error())
		return
	}

	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	out := w.invoke(ctx, handler, t.ID, payload)
	switch {
	case out.recovered != nil:
		logger.Error("task handler panicked",
			"panic", out.recovered.Value,
			"stack", string(out.recovered.Stack))
		w.finish(ctx, logger, t, start, StatusFailed, nil, fmt.Sprint(out.recovered.Value))
	case out.err != nil && ctx.Err() != nil:
		logger.Warn("task cancelled during shutdown", "error", out.err)
		w.finish(ctx, logger, t, start, StatusCancelled, nil, "")
	case out.err != nil:
		logger.Error("task execution failed", "error", out.err)
		w.finish(ctx, logger, t, start, StatusFailed, nil, out.err.Error())
	default:
		if msg, failed := ResultFailure(out.result); failed {
			logger.Warn("task handler reported failure", "error", msg)
			w.finish(ctx, logger, t, start, StatusFailed, nil, msg)
			return
		}
		logger.Info("task completed successfully")
		w.finish(ctx, logger, t, start, StatusCompleted, out.result, "")
	}
}

// outcome is what a handler invocation produced.
type outcome struct {
	result    map[string]any
	err       error
	recovered *panics.Recovered
}

// invoke calls the handler, converting a panic into a recovered value so
// that one task can never take down the worker.
func (w *Worker) invoke(ctx context.Context, h Handler, id int64, payload map[string]any) outcome {
	var (
		pc  panics.Catcher
		out outcome
	)
	pc.Try(func() {
		out.result, out.err = h(ctx, id, payload, w.store)
	})
	out.recovered = pc.Recovered()
	return out
}

// finish writes the terminal state and publishes the final snapshot.
func (w *Worker) finish(
	ctx context.Context,
	logger *slog.Logger,
	t *AgentTask,
	start time.Time,
	status Status,
	result map[string]any,
	message string,
) {
	if status == StatusFailed && message == "" {
		message = "task failed"
	}

	final, status, message, err := w.record(ctx, logger, t.ID, status, result, message)

	span := trace.SpanFromContext(ctx)
	if err != nil {
		logger.Error("failed to record terminal task status",
			"status", status,
			"error", err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	switch status {
	case StatusCompleted:
		w.completed.Add(1)
	case StatusCancelled:
		w.cancelled.Add(1)
	default:
		w.failed.Add(1)
	}
	if w.metrics != nil {
		w.metrics.TaskFinished(context.WithoutCancel(ctx), t.Type, status, time.Since(start))
	}

	span.SetAttributes(attribute.String("task.status", string(status)))
	if status == StatusFailed {
		span.SetStatus(codes.Error, message)
	}

	if w.publisher != nil {
		w.publisher.Publish(final)
	}
}

// record writes the terminal state and returns the status that was actually
// stored. A result the store rejects fails the task instead, and a failed
// Fail or Cancel write is attempted once more.
func (w *Worker) record(
	ctx context.Context,
	logger *slog.Logger,
	id int64,
	status Status,
	result map[string]any,
	message string,
) (*AgentTask, Status, string, error) {
	final, err := w.write(ctx, id, status, result, message)
	if err == nil {
		return final, status, message, nil
	}

	if status == StatusCompleted {
		logger.Error("failed to record task result", "error", err)
		status = StatusFailed
		message = "failed to record result: " + err.Error()
		if final, err = w.write(ctx, id, status, nil, message); err == nil {
			return final, status, message, nil
		}
	}

	logger.Warn("retrying terminal task status write", "status", status, "error", err)
	final, err = w.write(ctx, id, status, nil, message)
	return final, status, message, err
}

// write performs one terminal store write. It runs on a fresh deadline so a
// cancelled execution context cannot prevent it.
func (w *Worker) write(ctx context.Context, id int64, status Status, result map[string]any, message string) (*AgentTask, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.StoreTimeout)
	defer cancel()

	switch status {
	case StatusCompleted:
		if result == nil {
			result = map[string]any{}
		}
		return w.store.Complete(writeCtx, id, result)
	case StatusCancelled:
		return w.store.Cancel(writeCtx, id)
	default:
		return w.store.Fail(writeCtx, id, message)
	}
}

// drain waits for in-flight executions, cancelling their contexts once the
// grace period has elapsed. It never abandons an execution.
func (w *Worker) drain() {
	finished := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(finished)
	}()

	if grace := w.config.ShutdownGracePeriod; grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-finished:
			w.execCancel()
			return
		case <-timer.C:
			w.logger.Warn("shutdown grace period elapsed, cancelling in-flight tasks",
				"running", w.runningCount())
		}
	}

	w.execCancel()
	<-finished
}
