package recovery

import (
	"context"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// Strategy determines how the executor reacts to a classified failure.
type Strategy string

const (
	StrategyRetry    Strategy = "retry"
	StrategySkip     Strategy = "skip"
	StrategyFallback Strategy = "fallback"
	StrategyRollback Strategy = "rollback"
	StrategyNotify   Strategy = "notify"
)

// Action is one recovery rule: what to do, how often, and how fast to back off.
type Action struct {
	Strategy      Strategy
	Category      domain.ErrorCategory
	MaxAttempts   int
	BackoffFactor float64

	// Fallback is invoked when Strategy is StrategyFallback. Its outcome
	// replaces the failed call's outcome.
	Fallback func(ctx context.Context) error

	// Rollback is the compensating action for StrategyRollback. The original
	// error propagates after it runs.
	Rollback func(ctx context.Context) error

	NotifyOnFailure bool
}

// PolicyTable maps error-kind strings (e.g. "SSH_CONNECTION_FAILED") to
// recovery actions, falling back to per-category defaults when no specific
// kind is registered. Integration-specific tables are composed as overlays on
// the defaults.
type PolicyTable struct {
	kinds    map[string]Action
	defaults map[domain.ErrorCategory]Action
}

// NewPolicyTable returns a table seeded with the category defaults:
// transient, network and resource failures retry; permission, validation and
// permanent failures are skipped and surface immediately.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{
		kinds: make(map[string]Action),
		defaults: map[domain.ErrorCategory]Action{
			domain.CategoryTransient: {
				Strategy:      StrategyRetry,
				Category:      domain.CategoryTransient,
				MaxAttempts:   3,
				BackoffFactor: 2.0,
			},
			domain.CategoryNetwork: {
				Strategy:      StrategyRetry,
				Category:      domain.CategoryNetwork,
				MaxAttempts:   5,
				BackoffFactor: 2.0,
			},
			domain.CategoryResource: {
				Strategy:        StrategyRetry,
				Category:        domain.CategoryResource,
				MaxAttempts:     3,
				BackoffFactor:   3.0,
				NotifyOnFailure: true,
			},
			domain.CategoryPermission: {
				Strategy:        StrategySkip,
				Category:        domain.CategoryPermission,
				MaxAttempts:     1,
				BackoffFactor:   1.0,
				NotifyOnFailure: true,
			},
			domain.CategoryValidation: {
				Strategy:      StrategySkip,
				Category:      domain.CategoryValidation,
				MaxAttempts:   1,
				BackoffFactor: 1.0,
			},
			domain.CategoryPermanent: {
				Strategy:        StrategySkip,
				Category:        domain.CategoryPermanent,
				MaxAttempts:     1,
				BackoffFactor:   1.0,
				NotifyOnFailure: true,
			},
		},
	}
}

// Register binds an error-kind string to an action, overriding any previous
// binding for that kind.
func (t *PolicyTable) Register(kind string, a Action) {
	t.kinds[kind] = a
}

// SetDefault replaces the default action for a category.
func (t *PolicyTable) SetDefault(category domain.ErrorCategory, a Action) {
	a.Category = category
	t.defaults[category] = a
}

// Overlay returns a new table with the given kind bindings composed on top of
// this one. The receiver is not modified.
func (t *PolicyTable) Overlay(kinds map[string]Action) *PolicyTable {
	out := &PolicyTable{
		kinds:    make(map[string]Action, len(t.kinds)+len(kinds)),
		defaults: make(map[domain.ErrorCategory]Action, len(t.defaults)),
	}
	for k, a := range t.kinds {
		out.kinds[k] = a
	}
	for k, a := range kinds {
		out.kinds[k] = a
	}
	for c, a := range t.defaults {
		out.defaults[c] = a
	}
	return out
}

// Lookup resolves the action for an error kind, falling back to the category
// default. Unknown categories resolve to the permanent default.
func (t *PolicyTable) Lookup(kind string, category domain.ErrorCategory) Action {
	if kind != "" {
		if a, ok := t.kinds[kind]; ok {
			return a
		}
	}
	if a, ok := t.defaults[category]; ok {
		return a
	}
	return t.defaults[domain.CategoryPermanent]
}

// Retryable reports whether the category's default strategy retries, which is
// what the selective integration policy keys off.
func (t *PolicyTable) Retryable(category domain.ErrorCategory) bool {
	a, ok := t.defaults[category]
	return ok && a.Strategy != StrategySkip
}
