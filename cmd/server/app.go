package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/compliance-tasks/internal/api"
	"github.com/phrazzld/compliance-tasks/internal/auth"
	"github.com/phrazzld/compliance-tasks/internal/config"
	"github.com/phrazzld/compliance-tasks/internal/events"
	"github.com/phrazzld/compliance-tasks/internal/handlers"
	"github.com/phrazzld/compliance-tasks/internal/intent"
	"github.com/phrazzld/compliance-tasks/internal/platform/postgres"
	"github.com/phrazzld/compliance-tasks/internal/platform/telemetry"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
)

// application holds the shared dependencies so they can be wired once and
// shut down in order.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Stores
	tasks   task.Store
	catalog intent.Catalog
	pinger  api.Pinger

	tools        *toolclient.Client
	tokens       *auth.TokenService
	broadcaster  *events.Broadcaster
	worker       *task.Worker
	orchestrator *intent.Orchestrator
}

// dependencies are the pieces that differ between production and tests.
type dependencies struct {
	tasks    task.Store
	catalog  intent.Catalog
	pinger   api.Pinger
	notifier task.Notifier
}

// newApplication wires the application against PostgreSQL.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	return assemble(cfg, logger, dependencies{
		tasks:   postgres.NewTaskStore(db, logger),
		catalog: postgres.NewCatalogStore(db, logger),
		pinger:  db,
		notifier: postgres.NewListener(
			cfg.Database.URL,
			cfg.Database.NotifyChannel,
			cfg.Database.ListenerReconnectDelay(),
			logger,
		),
	})
}

// assemble builds every component from deps and connects them: handlers
// into the registry, the broadcaster and metrics into the worker, and the
// worker's wake-up into the orchestrator.
func assemble(cfg *config.Config, logger *slog.Logger, deps dependencies) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		tasks:   deps.tasks,
		catalog: deps.catalog,
		pinger:  deps.pinger,
	}

	var err error
	app.tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	app.tools = toolclient.New(toolclient.Config{
		BaseURL:     cfg.Tools.BaseURL,
		Timeout:     cfg.Tools.Timeout(),
		RetryCount:  cfg.Tools.RetryCount,
		BackoffBase: cfg.Tools.BackoffBase(),
		MaxBackoff:  cfg.Tools.MaxBackoff(),
	}, logger)

	registry := task.NewRegistry()
	taskHandlers, err := handlers.New(app.tools, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task handlers: %w", err)
	}
	if err := taskHandlers.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register task handlers: %w", err)
	}

	app.broadcaster = events.NewBroadcaster(events.DefaultBufferSize, logger)

	app.worker = task.NewWorker(app.tasks, registry, task.WorkerConfig{
		PollInterval:        cfg.Task.PollInterval(),
		MaxConcurrentTasks:  cfg.Task.MaxConcurrentTasks,
		ShutdownGracePeriod: cfg.Task.ShutdownGracePeriod(),
		StoreTimeout:        cfg.Task.StoreTimeout(),
	}, logger)
	app.worker.SetPublisher(app.broadcaster)
	if deps.notifier != nil {
		app.worker.SetNotifier(deps.notifier)
	}
	metrics, err := telemetry.NewWorkerMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker metrics: %w", err)
	}
	app.worker.SetMetrics(metrics)

	app.orchestrator = intent.New(app.catalog, app.tasks, intent.Config{
		DefaultProjectID:    cfg.Intent.DefaultProjectID,
		DefaultFramework:    cfg.Intent.DefaultFramework,
		DefaultReportFormat: cfg.Intent.DefaultReportFormat,
	}, logger)
	app.orchestrator.SetNotify(app.worker.Notify)

	logger.Info("application initialized",
		"task_types", registry.Types(),
		"notifications", deps.notifier != nil)
	return app, nil
}

// run starts the worker and the HTTP server and blocks until ctx is done,
// then shuts both down.
func (app *application) run(ctx context.Context) error {
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- app.worker.Start(ctx)
	}()

	err := app.startHTTPServer(ctx, app.setupRouter())

	app.worker.Stop()
	app.broadcaster.Close()
	if werr := <-workerErr; werr != nil {
		app.logger.Error("task worker exited with error", "error", werr)
		if err == nil {
			err = werr
		}
	}
	app.logger.Info("shutdown completed")
	return err
}
