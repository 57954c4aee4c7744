// Package storage defines the persistence boundary consumed by the dead
// letter queue. The in-memory queue is authoritative for every operational
// decision; a TaskMirror is a best-effort durable copy for audit and
// querying, and the queue must keep working when it is unavailable.
package storage

import (
	"context"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// TaskMirror mirrors dead-lettered task records to a durable store.
type TaskMirror interface {
	// Save upserts the record keyed by task id.
	Save(ctx context.Context, task *domain.FailedTask) error

	// Delete removes the record for a task id. Unknown ids are not an error.
	Delete(ctx context.Context, taskID string) error

	// Clear removes all mirrored records.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
