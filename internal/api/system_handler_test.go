package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/compliance-tasks/internal/events"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	tools     []toolclient.ToolInfo
	listErr   error
	health    toolclient.HealthStatus
	healthErr error
}

func (f *fakeCatalog) ListTools(context.Context) ([]toolclient.ToolInfo, error) {
	return f.tools, f.listErr
}

func (f *fakeCatalog) Health(context.Context) (toolclient.HealthStatus, error) {
	return f.health, f.healthErr
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type fakeWorker struct{ stats task.WorkerStats }

func (f fakeWorker) Stats() task.WorkerStats { return f.stats }

func newSystemHandler(catalog *fakeCatalog, db fakePinger) *SystemHandler {
	return NewSystemHandler(catalog, db, fakeWorker{}, events.NewBroadcaster(1, discardLogger()), discardLogger())
}

func TestListTools(t *testing.T) {
	t.Parallel()
	h := newSystemHandler(&fakeCatalog{tools: []toolclient.ToolInfo{{Name: "generate_report"}}}, fakePinger{})

	w := httptest.NewRecorder()
	h.ListTools(w, newRequest(t, http.MethodGet, "/api/tools", "", 1))

	require.Equal(t, http.StatusOK, w.Code)
	var resp ToolListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "generate_report", resp.Tools[0].Name)
}

func TestListTools_ToolServiceDown(t *testing.T) {
	t.Parallel()
	h := newSystemHandler(&fakeCatalog{listErr: &toolclient.Error{Kind: toolclient.KindTransient, Tool: "tools", Detail: "dial tcp 10.1.1.1:80"}}, fakePinger{})

	w := httptest.NewRecorder()
	h.ListTools(w, newRequest(t, http.MethodGet, "/api/tools", "", 1))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Tool service unavailable", decodeError(t, w).Error)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		catalog    *fakeCatalog
		db         fakePinger
		wantStatus int
		want       HealthResponse
	}{
		{
			name:       "all healthy",
			catalog:    &fakeCatalog{health: toolclient.HealthStatus{Status: "healthy"}},
			wantStatus: http.StatusOK,
			want:       HealthResponse{Status: "ok", Database: "ok", Tools: "ok"},
		},
		{
			name:       "tools report unhealthy",
			catalog:    &fakeCatalog{health: toolclient.HealthStatus{Status: "unhealthy (503)"}},
			wantStatus: http.StatusOK,
			want:       HealthResponse{Status: "degraded", Database: "ok", Tools: "unhealthy (503)"},
		},
		{
			name:       "tools unreachable",
			catalog:    &fakeCatalog{healthErr: errors.New("connection refused")},
			wantStatus: http.StatusOK,
			want:       HealthResponse{Status: "degraded", Database: "ok", Tools: "unavailable"},
		},
		{
			name:       "database down",
			catalog:    &fakeCatalog{health: toolclient.HealthStatus{Status: "healthy"}},
			db:         fakePinger{err: errors.New("no route to host")},
			wantStatus: http.StatusServiceUnavailable,
			want:       HealthResponse{Status: "unavailable", Database: "unavailable", Tools: "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newSystemHandler(tc.catalog, tc.db)

			w := httptest.NewRecorder()
			h.Health(w, newRequest(t, http.MethodGet, "/health", "", 0))

			assert.Equal(t, tc.wantStatus, w.Code)
			var got HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	broadcaster := events.NewBroadcaster(1, discardLogger())
	broadcaster.Subscribe(1)
	broadcaster.Publish(&task.AgentTask{ID: 1, CreatedBy: 2})

	h := NewSystemHandler(&fakeCatalog{}, fakePinger{},
		fakeWorker{stats: task.WorkerStats{Running: 1, MaxConcurrentTasks: 3, Completed: 4}},
		broadcaster, discardLogger())

	w := httptest.NewRecorder()
	h.Stats(w, newRequest(t, http.MethodGet, "/api/worker/stats", "", 1))

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Worker.Running)
	assert.Equal(t, int64(4), resp.Worker.Completed)
	assert.Equal(t, 1, resp.Events.Subscribers)
	assert.Equal(t, int64(1), resp.Events.Dropped)
}
