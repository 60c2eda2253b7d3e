package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a job is not in DISPATCHED status at claim time
	ErrJobAlreadyClaimed = errors.New("job already claimed or not dispatched")

	// ErrJobNotCancelable is returned when canceling a job that already left PENDING
	ErrJobNotCancelable = errors.New("job is not pending")

	// ErrDuplicateJob is returned when a job with the same idempotency key exists
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrInvalidPayload is returned when job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownHook is returned when no handler is registered for the job's hook
	ErrUnknownHook = errors.New("unknown job hook")

	// ErrMaxRetriesExceeded is returned when a job has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
