package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// TaskMirror implements storage.TaskMirror using PostgreSQL.
type TaskMirror struct {
	db *DB
}

// NewTaskMirror creates a PostgreSQL task mirror.
func NewTaskMirror(db *DB) *TaskMirror {
	return &TaskMirror{db: db}
}

// Save upserts the record keyed by task id.
func (m *TaskMirror) Save(ctx context.Context, t *domain.FailedTask) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO dlq_tasks (
			task_id, payload, scopes, error_message, error_category,
			retry_policy, retry_count, max_retries, next_retry_at, status,
			metadata, failed_at, updated_at, total_attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (task_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			scopes = EXCLUDED.scopes,
			error_message = EXCLUDED.error_message,
			error_category = EXCLUDED.error_category,
			retry_policy = EXCLUDED.retry_policy,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			next_retry_at = EXCLUDED.next_retry_at,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			total_attempts = EXCLUDED.total_attempts
	`

	var nextRetryAt *time.Time
	if t.NextRetryAt != nil {
		at := *t.NextRetryAt
		nextRetryAt = &at
	}

	_, err = m.db.ExecContext(
		ctx,
		query,
		t.TaskID,
		[]byte(t.Payload),
		pq.Array(t.Scopes),
		t.ErrorMessage,
		string(t.ErrorCategory),
		string(t.RetryPolicy),
		t.RetryCount,
		t.MaxRetries,
		nextRetryAt,
		string(t.Status),
		metadata,
		t.FailedAt,
		t.UpdatedAt,
		t.TotalAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// Delete removes the record for a task id.
func (m *TaskMirror) Delete(ctx context.Context, taskID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM dlq_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Clear removes all mirrored records.
func (m *TaskMirror) Clear(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `TRUNCATE dlq_tasks`)
	if err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (m *TaskMirror) Close() error {
	return m.db.Close()
}

// List returns mirrored records ordered by failure time, for audit tooling.
func (m *TaskMirror) List(ctx context.Context, limit int) ([]*domain.FailedTask, error) {
	query := `
		SELECT task_id, payload, scopes, error_message, error_category,
		       retry_policy, retry_count, max_retries, next_retry_at, status,
		       metadata, failed_at, updated_at, total_attempts
		FROM dlq_tasks
		ORDER BY failed_at ASC
		LIMIT $1
	`
	if limit <= 0 {
		limit = 100
	}

	var rows []struct {
		TaskID        string         `db:"task_id"`
		Payload       []byte         `db:"payload"`
		Scopes        pq.StringArray `db:"scopes"`
		ErrorMessage  string         `db:"error_message"`
		ErrorCategory string         `db:"error_category"`
		RetryPolicy   string         `db:"retry_policy"`
		RetryCount    int            `db:"retry_count"`
		MaxRetries    int            `db:"max_retries"`
		NextRetryAt   *time.Time     `db:"next_retry_at"`
		Status        string         `db:"status"`
		Metadata      []byte         `db:"metadata"`
		FailedAt      time.Time      `db:"failed_at"`
		UpdatedAt     time.Time      `db:"updated_at"`
		TotalAttempts int            `db:"total_attempts"`
	}

	if err := m.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*domain.FailedTask, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
				metadata = nil
			}
		}
		tasks = append(tasks, &domain.FailedTask{
			TaskID:        row.TaskID,
			Payload:       row.Payload,
			Scopes:        row.Scopes,
			ErrorMessage:  row.ErrorMessage,
			ErrorCategory: domain.ErrorCategory(row.ErrorCategory),
			RetryPolicy:   domain.RetryPolicy(row.RetryPolicy),
			RetryCount:    row.RetryCount,
			MaxRetries:    row.MaxRetries,
			NextRetryAt:   row.NextRetryAt,
			Status:        domain.TaskStatus(row.Status),
			Metadata:      metadata,
			FailedAt:      row.FailedAt,
			UpdatedAt:     row.UpdatedAt,
			TotalAttempts: row.TotalAttempts,
		})
	}
	return tasks, nil
}
