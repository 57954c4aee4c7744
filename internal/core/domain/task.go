package domain

import (
	"encoding/json"
	"time"
)

// ErrorCategory classifies the root cause of a failure.
type ErrorCategory string

const (
	CategoryTransient  ErrorCategory = "transient"
	CategoryNetwork    ErrorCategory = "network"
	CategoryResource   ErrorCategory = "resource"
	CategoryPermission ErrorCategory = "permission"
	CategoryValidation ErrorCategory = "validation"
	CategoryPermanent  ErrorCategory = "permanent"
)

// RetryPolicy controls how the dead letter queue schedules automatic retries.
type RetryPolicy string

const (
	RetryNever       RetryPolicy = "never"
	RetryLinear      RetryPolicy = "linear"
	RetryExponential RetryPolicy = "exponential"
	RetryImmediate   RetryPolicy = "immediate"
)

// TaskStatus is the lifecycle state of a dead-lettered task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRetrying  TaskStatus = "retrying"
	TaskStatusExhausted TaskStatus = "exhausted"
	TaskStatusArchived  TaskStatus = "archived"
)

// IntegrationPolicy controls whether exhausted work is handed to the DLQ.
type IntegrationPolicy string

const (
	// IntegrationAutomatic enqueues every exhausted task regardless of category.
	IntegrationAutomatic IntegrationPolicy = "automatic"
	// IntegrationSelective enqueues only categories that are retryable by default.
	IntegrationSelective IntegrationPolicy = "selective"
	// IntegrationManual never auto-enqueues; callers enqueue explicitly.
	IntegrationManual IntegrationPolicy = "manual"
	// IntegrationDisabled surfaces exhaustion as a plain error, no DLQ involved.
	IntegrationDisabled IntegrationPolicy = "disabled"
)

// FailedTask is a unit of work that exhausted its retry budget and was parked
// in the dead letter queue for later reprocessing.
type FailedTask struct {
	TaskID        string            `json:"task_id"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Scopes        []string          `json:"scopes,omitempty"`
	ErrorMessage  string            `json:"error_message"`
	ErrorCategory ErrorCategory     `json:"error_category"`
	RetryPolicy   RetryPolicy       `json:"retry_policy"`
	RetryCount    int               `json:"retry_count"`
	MaxRetries    int               `json:"max_retries"`
	NextRetryAt   *time.Time        `json:"next_retry_at,omitempty"`
	Status        TaskStatus        `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FailedAt      time.Time         `json:"failed_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	TotalAttempts int               `json:"total_attempts"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (t *FailedTask) Clone() *FailedTask {
	cp := *t
	if t.NextRetryAt != nil {
		at := *t.NextRetryAt
		cp.NextRetryAt = &at
	}
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Scopes != nil {
		cp.Scopes = append([]string(nil), t.Scopes...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
