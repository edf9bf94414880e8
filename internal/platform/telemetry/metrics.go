package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/phrazzld/compliance-tasks/internal/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WorkerMetrics records task executions. It implements task.MetricsRecorder.
type WorkerMetrics struct {
	started  metric.Int64Counter
	finished metric.Int64Counter
	running  metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

var _ task.MetricsRecorder = (*WorkerMetrics)(nil)

// NewWorkerMetrics creates the worker instruments on mp, or on the global
// meter provider when mp is nil.
func NewWorkerMetrics(mp metric.MeterProvider) (*WorkerMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	started, err := meter.Int64Counter("tasks.started",
		metric.WithDescription("Tasks claimed by the worker"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks.started: %w", err)
	}
	finished, err := meter.Int64Counter("tasks.finished",
		metric.WithDescription("Tasks that reached a terminal status"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks.finished: %w", err)
	}
	running, err := meter.Int64UpDownCounter("tasks.running",
		metric.WithDescription("Tasks currently executing"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks.running: %w", err)
	}
	duration, err := meter.Float64Histogram("tasks.duration",
		metric.WithDescription("Time from claim to terminal status"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks.duration: %w", err)
	}

	return &WorkerMetrics{
		started:  started,
		finished: finished,
		running:  running,
		duration: duration,
	}, nil
}

// TaskStarted implements task.MetricsRecorder.
func (m *WorkerMetrics) TaskStarted(ctx context.Context, taskType task.Type) {
	attrs := metric.WithAttributes(attribute.String("task.type", string(taskType)))
	m.started.Add(ctx, 1, attrs)
	m.running.Add(ctx, 1, attrs)
}

// TaskFinished implements task.MetricsRecorder.
func (m *WorkerMetrics) TaskFinished(ctx context.Context, taskType task.Type, status task.Status, elapsed time.Duration) {
	typeAttr := attribute.String("task.type", string(taskType))
	m.running.Add(ctx, -1, metric.WithAttributes(typeAttr))

	attrs := metric.WithAttributes(typeAttr, attribute.String("task.status", string(status)))
	m.finished.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
