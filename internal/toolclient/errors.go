package toolclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed tool call. The retry decision depends on the
// kind alone.
type Kind int

// Failure kinds
const (
	// KindTransient covers timeouts, connection errors, 5xx responses and
	// unreadable bodies. Retried.
	KindTransient Kind = iota + 1

	// KindNotFound means the service does not know the tool. Never retried.
	KindNotFound

	// KindHandlerReported means the service ran the tool and reported a
	// handled failure. Never retried.
	KindHandlerReported
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindHandlerReported:
		return "handler_reported"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt could succeed.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Error is returned by every failed client operation.
type Error struct {
	Kind       Kind
	Tool       string
	Parameters map[string]any
	// Detail is the server-reported message, or a description of the
	// transport failure
	Detail     string
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("tool %q %s failure: %s", e.Tool, e.Kind, e.Detail)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying transport or decoding error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsNotFound reports whether err says the tool does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsTransient reports whether err was a retryable failure.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsHandlerReported reports whether the tool itself reported failure.
func IsHandlerReported(err error) bool {
	return KindOf(err) == KindHandlerReported
}
