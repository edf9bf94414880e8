package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/compliance-tasks/internal/api"
	apiMiddleware "github.com/phrazzld/compliance-tasks/internal/api/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// setupRouter creates the application router with all routes and
// middleware, wrapped in HTTP instrumentation.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.orchestrator, app.tasks, app.logger)
	eventsHandler := api.NewEventsHandler(app.broadcaster, app.config.Server.KeepaliveInterval(), app.logger)
	systemHandler := api.NewSystemHandler(app.tools, app.pinger, app.worker, app.broadcaster, app.logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.tokens)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)

		r.Get("/events", eventsHandler.Stream)

		r.Get("/tools", systemHandler.ListTools)
		r.Get("/worker/stats", systemHandler.Stats)
	})

	r.Get("/health", systemHandler.Health)

	return otelhttp.NewHandler(r, "compliance-tasks",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
