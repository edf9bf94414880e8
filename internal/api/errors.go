package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/compliance-tasks/internal/api/shared"
	"github.com/phrazzld/compliance-tasks/internal/auth"
	"github.com/phrazzld/compliance-tasks/internal/domain"
	"github.com/phrazzld/compliance-tasks/internal/store"
	"github.com/phrazzld/compliance-tasks/internal/task"
	"github.com/phrazzld/compliance-tasks/internal/toolclient"
)

// ErrInvalidRequest marks malformed request input (bad JSON, bad query
// parameters). It maps to 400.
var ErrInvalidRequest = errors.New("invalid request")

// MapErrorToStatusCode maps internal errors to HTTP status codes so that
// internal error types never reach clients.
func MapErrorToStatusCode(err error) int {
	var toolErr *toolclient.Error
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return http.StatusUnauthorized

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, task.ErrInvalidTransition):
		return http.StatusConflict

	case errors.As(err, &toolErr):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var toolErr *toolclient.Error
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return "Invalid token"
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request"
	case errors.Is(err, domain.ErrValidation):
		return "Validation failed"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrProjectNotFound):
		return "Project not found"
	case errors.Is(err, store.ErrControlNotFound):
		return "Control not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, task.ErrInvalidTransition):
		return "Task is not in a state that allows this change"
	case errors.As(err, &toolErr):
		return "Tool service unavailable"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err and logs
// the full error. Validation failures carry their field list.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && defaultMsg != "" {
		message = defaultMsg
	}

	var opts []shared.ResponseOption
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		opts = append(opts, shared.WithFieldErrors(verr.Fields))
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}
