package task

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionUnavailable indicates no connection was available
	// within the configured wait. Transient.
	ErrConnectionUnavailable = errors.New("connection unavailable")
	// ErrAckTimeout indicates the server did not acknowledge in time.
	// Transient.
	ErrAckTimeout = errors.New("acknowledgment timeout")
	// ErrCancelled indicates the task was cancelled cooperatively.
	ErrCancelled = errors.New("task cancelled")
	// ErrTaskNotFound indicates no queued task matched the given id.
	ErrTaskNotFound = errors.New("task not found")
)

// transientError marks failures the manager retries with backoff.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("transient: %v", e.err)
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps an error so the manager treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the manager should retry after this error.
// Connection loss and ack timeouts are transient by definition.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrConnectionUnavailable) || errors.Is(err, ErrAckTimeout)
}
