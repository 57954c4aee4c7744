package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned by manual operations on unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrQueueFull is returned when the dead letter queue is at capacity
	// and no eviction policy is configured.
	ErrQueueFull = errors.New("dead letter queue is full")

	// ErrTaskInFlight is returned when a retry is requested for a task that
	// already has a re-execution attempt running.
	ErrTaskInFlight = errors.New("task retry already in flight")

	// ErrProcessorRunning is returned when Start is called on a running processor.
	ErrProcessorRunning = errors.New("retry processor already running")
)

// BreakerOpenError is the fail-fast error for a resource whose circuit
// breaker is open. No attempt was made and no retry budget was consumed.
type BreakerOpenError struct {
	Resource string
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for resource %q", e.Resource)
}

// RetriesExhaustedError is returned once a unit of work has consumed its
// full retry budget. It carries the last underlying error.
type RetriesExhaustedError struct {
	Resource string
	Category ErrorCategory
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf(
		"retries exhausted for resource %q after %d attempts (%s): %v",
		e.Resource, e.Attempts, e.Category, e.Err,
	)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}
