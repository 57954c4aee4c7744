package recovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/dlq"
)

// UnitOfWork is one attempt at the wrapped call.
type UnitOfWork func(ctx context.Context) error

// DeadLetter is the subset of the dead letter queue the executor needs.
type DeadLetter interface {
	Enqueue(ctx context.Context, req dlq.EnqueueRequest) (*domain.FailedTask, error)
}

// Work describes a unit of work handed to Run. Resource is the circuit
// breaker key ("class:identifier"); Kind is an optional error-kind hint used
// for policy lookup (e.g. "SSH_CONNECTION_FAILED").
type Work struct {
	TaskID       string
	Payload      json.RawMessage
	Scopes       []string
	Metadata     map[string]string
	Resource     string
	Kind         string
	CategoryHint domain.ErrorCategory

	// Timeout bounds each individual attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// BackoffConfig tunes the executor's retry delays. Delay for attempt n is
// min(factor^n, Cap) seconds, with multiplicative jitter of ±Jitter.
type BackoffConfig struct {
	Cap    time.Duration `yaml:"cap"`
	Jitter float64       `yaml:"jitter"`
}

// DefaultBackoffConfig caps delays at five minutes with ±20% jitter.
var DefaultBackoffConfig = BackoffConfig{
	Cap:    5 * time.Minute,
	Jitter: 0.2,
}

// Manager wraps unit-of-work calls with the full recovery pipeline:
// breaker gate, classification, policy lookup, bounded retries with backoff,
// and DLQ hand-off on exhaustion.
type Manager struct {
	breaker     *CircuitBreaker
	policies    *PolicyTable
	deadLetter  DeadLetter
	integration domain.IntegrationPolicy
	backoff     BackoffConfig
	hook        Hook
	log         *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager creates an executor. deadLetter may be nil when integration is
// manual or disabled; hook may be nil.
func NewManager(
	breaker *CircuitBreaker,
	policies *PolicyTable,
	deadLetter DeadLetter,
	integration domain.IntegrationPolicy,
	backoff BackoffConfig,
	hook Hook,
) *Manager {
	if policies == nil {
		policies = NewPolicyTable()
	}
	if backoff.Cap <= 0 {
		backoff.Cap = DefaultBackoffConfig.Cap
	}
	if backoff.Jitter < 0 || backoff.Jitter >= 1 {
		backoff.Jitter = DefaultBackoffConfig.Jitter
	}
	if integration == "" {
		integration = domain.IntegrationAutomatic
	}
	return &Manager{
		breaker:     breaker,
		policies:    policies,
		deadLetter:  deadLetter,
		integration: integration,
		backoff:     backoff,
		hook:        hook,
		log:         slog.Default(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the unit of work under the recovery pipeline.
//
// Failure modes: *domain.BreakerOpenError when the resource circuit is open
// (no attempt made, no retry budget consumed), *domain.RetriesExhaustedError
// once the retry budget is spent, or the surfaced error for non-retrying
// strategies.
func (m *Manager) Run(ctx context.Context, w Work, fn UnitOfWork) error {
	if !m.breaker.Allow(w.Resource) {
		return &domain.BreakerOpenError{Resource: w.Resource}
	}

	attempt := 0
	for {
		err := m.attempt(ctx, w, fn)
		if err == nil {
			m.breaker.RecordSuccess(w.Resource)
			return nil
		}

		category := ClassifyWithHint(err, w.CategoryHint)
		action := m.policies.Lookup(w.Kind, category)
		attempt++

		switch action.Strategy {
		case StrategyRetry:
			if attempt < action.MaxAttempts {
				if m.hook != nil {
					m.hook.RetryAttempt(w.Resource, string(category))
				}
				delay := m.delay(action.BackoffFactor, attempt-1)
				m.log.Debug("retrying after failure",
					"resource", w.Resource, "category", category,
					"attempt", attempt, "delay", delay, "error", err)
				select {
				case <-ctx.Done():
					// The attempt did fail; conclude it so an admitted
					// half-open trial is released rather than leaked.
					m.breaker.RecordFailure(w.Resource)
					return ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			return m.exhausted(ctx, w, category, action, attempt, err)

		case StrategyFallback:
			if action.Fallback != nil {
				m.breaker.RecordFailure(w.Resource)
				return action.Fallback(ctx)
			}
			return m.exhausted(ctx, w, category, action, attempt, err)

		case StrategyRollback:
			if action.Rollback != nil {
				if rbErr := action.Rollback(ctx); rbErr != nil {
					m.log.Error("rollback failed",
						"resource", w.Resource, "error", rbErr)
				}
			}
			m.breaker.RecordFailure(w.Resource)
			return err

		case StrategyNotify:
			m.breaker.RecordFailure(w.Resource)
			m.notify(w, category, err)
			return err

		default: // StrategySkip: surface immediately, no retry.
			m.breaker.RecordFailure(w.Resource)
			if action.NotifyOnFailure {
				m.notify(w, category, err)
			}
			// Automatic integration still parks skipped failures for audit.
			if m.integration == domain.IntegrationAutomatic {
				m.enqueue(ctx, w, category, err)
			}
			return err
		}
	}
}

func (m *Manager) attempt(ctx context.Context, w Work, fn UnitOfWork) error {
	if w.Timeout > 0 {
		attemptCtx, cancel := context.WithTimeout(ctx, w.Timeout)
		defer cancel()
		return fn(attemptCtx)
	}
	return fn(ctx)
}

// exhausted is the terminal path for a spent retry budget.
func (m *Manager) exhausted(
	ctx context.Context,
	w Work,
	category domain.ErrorCategory,
	action Action,
	attempts int,
	lastErr error,
) error {
	m.breaker.RecordFailure(w.Resource)
	if m.hook != nil {
		m.hook.RetryExhausted(w.Resource, string(category))
	}
	if action.NotifyOnFailure {
		m.notify(w, category, lastErr)
	}

	switch m.integration {
	case domain.IntegrationAutomatic:
		m.enqueue(ctx, w, category, lastErr)
	case domain.IntegrationSelective:
		if m.policies.Retryable(category) {
			m.enqueue(ctx, w, category, lastErr)
		}
	}

	return &domain.RetriesExhaustedError{
		Resource: w.Resource,
		Category: category,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func (m *Manager) enqueue(ctx context.Context, w Work, category domain.ErrorCategory, cause error) {
	if m.deadLetter == nil {
		return
	}
	id := w.TaskID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := m.deadLetter.Enqueue(ctx, dlq.EnqueueRequest{
		TaskID:   id,
		Payload:  w.Payload,
		Scopes:   w.Scopes,
		Err:      cause,
		Category: category,
		Metadata: w.Metadata,
	})
	if err != nil {
		m.log.Error("dead letter enqueue failed",
			"task_id", id, "resource", w.Resource, "error", err)
	}
}

func (m *Manager) notify(w Work, category domain.ErrorCategory, err error) {
	m.log.Warn("unrecoverable failure",
		"task_id", w.TaskID, "resource", w.Resource,
		"kind", w.Kind, "category", category, "error", err)
}

// delay computes the backoff for a 0-indexed attempt number.
func (m *Manager) delay(factor float64, attempt int) time.Duration {
	if factor < 1.0 {
		factor = 1.0
	}
	d := time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
	if d > m.backoff.Cap || d < 0 {
		d = m.backoff.Cap
	}
	if m.backoff.Jitter > 0 {
		m.rngMu.Lock()
		f := 1 + (m.rng.Float64()*2-1)*m.backoff.Jitter
		m.rngMu.Unlock()
		d = time.Duration(float64(d) * f)
	}
	return d
}
