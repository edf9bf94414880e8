package task

import (
	"errors"
	"fmt"
)

// Common errors returned by the task package
var (
	// ErrNoHandler is matched by every NoHandlerError.
	ErrNoHandler = errors.New("no handler registered")

	// ErrNoHandlers is returned by Worker.Start when the registry is empty.
	ErrNoHandlers = errors.New("handler registry is empty")

	// ErrInvalidTransition is returned by stores when a status change would
	// violate the pending → running → terminal lifecycle.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrInvalidProgress is returned for progress values outside [0,100].
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrWorkerStarted is returned when Start is called twice.
	ErrWorkerStarted = errors.New("worker already started")
)

// NoHandlerError reports a task type with no registered handler.
// It is a fatal dispatch failure and is never retried.
type NoHandlerError struct {
	Type Type
}

// Error implements the error interface.
func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for task type %q", e.Type)
}

// Is lets errors.Is(err, ErrNoHandler) match.
func (e *NoHandlerError) Is(target error) bool {
	return target == ErrNoHandler
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   int64
	From Status
	To   Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
