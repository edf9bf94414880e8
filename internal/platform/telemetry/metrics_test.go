package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/phrazzld/compliance-tasks/internal/config"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestWorkerMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewWorkerMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.TaskStarted(ctx, task.TypeReportGeneration)
	m.TaskStarted(ctx, task.TypeReportGeneration)
	m.TaskStarted(ctx, task.TypeEvidenceUpload)
	m.TaskFinished(ctx, task.TypeReportGeneration, task.StatusCompleted, 2*time.Second)
	m.TaskFinished(ctx, task.TypeEvidenceUpload, task.StatusFailed, time.Second)

	metrics := collect(t, reader)
	reportType := attribute.String("task.type", "report_generation")
	uploadType := attribute.String("task.type", "evidence_upload")

	assert.Equal(t, int64(2), sumFor(t, metrics["tasks.started"], reportType))
	assert.Equal(t, int64(1), sumFor(t, metrics["tasks.started"], uploadType))
	assert.Equal(t, int64(1), sumFor(t, metrics["tasks.running"], reportType))
	assert.Equal(t, int64(0), sumFor(t, metrics["tasks.running"], uploadType))
	assert.Equal(t, int64(1), sumFor(t, metrics["tasks.finished"],
		uploadType, attribute.String("task.status", "failed")))

	hist, ok := metrics["tasks.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_Enabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(config.TelemetryConfig{
		Enabled:               true,
		ServiceName:           "compliance-tasks-test",
		ExportIntervalSeconds: 60,
	}, &buf)
	require.NoError(t, err)

	m, err := NewWorkerMetrics(nil)
	require.NoError(t, err)
	m.TaskStarted(context.Background(), task.TypeEvidenceCollection)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "tasks.started", "shutdown flushes pending metrics")
}
