package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/compliance-tasks/internal/api/shared"
	"github.com/phrazzld/compliance-tasks/internal/events"
	"github.com/phrazzld/compliance-tasks/internal/platform/logger"
)

// Subscriber hands out live update subscriptions. *events.Broadcaster
// satisfies it.
type Subscriber interface {
	Subscribe(principal int64) *events.Subscription
	Unsubscribe(sub *events.Subscription)
}

// EventsHandler serves the server-sent event stream.
type EventsHandler struct {
	subscriber Subscriber
	keepalive  time.Duration
	logger     *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(subscriber Subscriber, keepalive time.Duration, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		subscriber: subscriber,
		keepalive:  keepalive,
		logger:     logger.With(slog.String("component", "events_handler")),
	}
}

// Stream handles GET /api/events. It holds the connection open and writes
// the principal's task updates until the client goes away or a newer
// connection of the same principal replaces this one.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.GetPrincipalID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Principal required")
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	rc := http.NewResponseController(w)
	// streams outlive the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("cannot clear write deadline", slog.String("error", err.Error()))
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error("response does not support streaming", slog.String("error", err.Error()))
		return
	}

	sub := h.subscriber.Subscribe(principal)
	defer h.subscriber.Unsubscribe(sub)
	log.Info("event stream opened",
		slog.Int64("principal", principal),
		slog.String("subscription", sub.ID.String()))

	flush := func() {
		if err := rc.Flush(); err != nil {
			log.Debug("flush failed", slog.String("error", err.Error()))
		}
	}
	if err := events.Stream(r.Context(), w, flush, sub, h.keepalive); err != nil {
		log.Debug("event stream ended with error", slog.String("error", err.Error()))
	}
	log.Info("event stream closed",
		slog.Int64("principal", principal),
		slog.String("subscription", sub.ID.String()))
}
