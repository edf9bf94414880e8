package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/compliance-tasks/internal/api/shared"
	"github.com/phrazzld/compliance-tasks/internal/events"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
)

// healthCheckTimeout bounds each dependency probe of GET /health.
const healthCheckTimeout = 3 * time.Second

// ToolCatalog is the read side of the tool service.
// *toolclient.Client satisfies it.
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]toolclient.ToolInfo, error)
	Health(ctx context.Context) (toolclient.HealthStatus, error)
}

// Pinger checks database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WorkerStatser exposes worker counters. *task.Worker satisfies it.
type WorkerStatser interface {
	Stats() task.WorkerStats
}

// BroadcastStatser exposes broadcaster counters.
// *events.Broadcaster satisfies it.
type BroadcastStatser interface {
	Stats() events.BroadcasterStats
}

// SystemHandler serves the tool catalogue, health and stats endpoints.
type SystemHandler struct {
	tools       ToolCatalog
	db          Pinger
	worker      WorkerStatser
	broadcaster BroadcastStatser
	logger      *slog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(
	tools ToolCatalog,
	db Pinger,
	worker WorkerStatser,
	broadcaster BroadcastStatser,
	logger *slog.Logger,
) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{
		tools:       tools,
		db:          db,
		worker:      worker,
		broadcaster: broadcaster,
		logger:      logger.With(slog.String("component", "system_handler")),
	}
}

// ListTools handles GET /api/tools.
func (h *SystemHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.tools.ListTools(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tools")
		return
	}
	if tools == nil {
		tools = []toolclient.ToolInfo{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, ToolListResponse{Tools: tools})
}

// Health handles GET /health. An unreachable database makes the service
// unavailable; an unhealthy tool service only degrades it, since tasks
// still queue and fail cleanly.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Tools: "ok"}
	status := http.StatusOK

	dbCtx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	if err := h.db.PingContext(dbCtx); err != nil {
		h.logger.Error("database health check failed", slog.String("error", err.Error()))
		resp.Database = "unavailable"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	toolCtx, cancelTools := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancelTools()
	tools, err := h.tools.Health(toolCtx)
	switch {
	case err != nil:
		h.logger.Warn("tool service health check failed", slog.String("error", err.Error()))
		resp.Tools = "unavailable"
	case !tools.Healthy():
		resp.Tools = tools.Status
	}
	if resp.Tools != "ok" && status == http.StatusOK {
		resp.Status = "degraded"
	}

	shared.RespondWithJSON(w, r, status, resp)
}

// Stats handles GET /api/worker/stats.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{
		Worker: h.worker.Stats(),
		Events: h.broadcaster.Stats(),
	})
}
