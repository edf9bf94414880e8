package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/compliance-tasks/internal/task"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// parseIDParam reads a positive int64 path parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidRequest, name)
	}
	return id, nil
}

// parseListFilter reads the status and limit query parameters.
func parseListFilter(r *http.Request, principal int64) (task.ListFilter, error) {
	filter := task.ListFilter{CreatedBy: principal, Limit: defaultListLimit}
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		status := task.Status(raw)
		if !status.Valid() {
			return filter, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, raw)
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			return filter, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, maxListLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}
