package recovery

import (
	"strings"
	"sync"
	"time"
)

// BreakerState is the state of a single resource key's circuit.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes a circuit breaker class.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenTrials   int           `yaml:"half_open_trials"`
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	RecoveryTimeout:  30 * time.Second,
	HalfOpenTrials:   1,
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultBreakerConfig.RecoveryTimeout
	}
	if c.HalfOpenTrials <= 0 {
		c.HalfOpenTrials = DefaultBreakerConfig.HalfOpenTrials
	}
	return c
}

type keyState struct {
	state               BreakerState
	consecutiveFailures int
	lastFailureAt       time.Time
	trialsInFlight      int
	cfg                 BreakerConfig
}

// CircuitBreaker tracks consecutive failures per resource key and fails fast
// while a resource is known bad. Keys are fully independent: failures on one
// host or broker never affect another key's circuit.
//
// Resource keys use the "class:identifier" convention (e.g. "ssh:hostA",
// "broker:mqtt://..."). Per-class overrides are matched on the class part.
type CircuitBreaker struct {
	mu      sync.Mutex
	keys    map[string]*keyState
	cfg     BreakerConfig
	classes map[string]BreakerConfig
	hook    Hook
	now     func() time.Time
}

// NewCircuitBreaker creates a breaker with a default config and optional
// per-class overrides.
func NewCircuitBreaker(cfg BreakerConfig, classes map[string]BreakerConfig, hook Hook) *CircuitBreaker {
	resolved := make(map[string]BreakerConfig, len(classes))
	for class, c := range classes {
		resolved[class] = c.withDefaults()
	}
	return &CircuitBreaker{
		keys:    make(map[string]*keyState),
		cfg:     cfg.withDefaults(),
		classes: resolved,
		hook:    hook,
		now:     time.Now,
	}
}

// Allow reports whether a call to the resource may proceed, admitting at most
// the configured number of half-open trials. Callers that receive true must
// follow up with RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(key)
	switch ks.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(ks.lastFailureAt) < ks.cfg.RecoveryTimeout {
			return false
		}
		b.transition(key, ks, BreakerHalfOpen)
		ks.trialsInFlight = 1
		return true
	case BreakerHalfOpen:
		if ks.trialsInFlight >= ks.cfg.HalfOpenTrials {
			// Trial budget consumed; treat as open until a trial concludes.
			return false
		}
		ks.trialsInFlight++
		return true
	}
	return true
}

// IsOpen reports whether the resource is currently rejecting calls. Unlike
// Allow it does not admit a half-open trial.
func (b *CircuitBreaker) IsOpen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(key)
	if ks.state == BreakerOpen {
		return b.now().Sub(ks.lastFailureAt) < ks.cfg.RecoveryTimeout
	}
	return false
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *CircuitBreaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(key)
	switch ks.state {
	case BreakerHalfOpen:
		ks.trialsInFlight = 0
		ks.consecutiveFailures = 0
		b.transition(key, ks, BreakerClosed)
	case BreakerClosed:
		ks.consecutiveFailures = 0
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold. A
// failed half-open trial reopens immediately and restarts the recovery clock.
func (b *CircuitBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateFor(key)
	ks.consecutiveFailures++
	ks.lastFailureAt = b.now()

	switch ks.state {
	case BreakerHalfOpen:
		ks.trialsInFlight = 0
		b.transition(key, ks, BreakerOpen)
	case BreakerClosed:
		if ks.consecutiveFailures >= ks.cfg.FailureThreshold {
			b.transition(key, ks, BreakerOpen)
		}
	}
}

// State returns the current state for a resource key.
func (b *CircuitBreaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(key).state
}

func (b *CircuitBreaker) stateFor(key string) *keyState {
	ks, ok := b.keys[key]
	if !ok {
		cfg := b.cfg
		if class, _, found := strings.Cut(key, ":"); found {
			if override, ok := b.classes[class]; ok {
				cfg = override
			}
		}
		ks = &keyState{state: BreakerClosed, cfg: cfg}
		b.keys[key] = ks
	}
	return ks
}

func (b *CircuitBreaker) transition(key string, ks *keyState, to BreakerState) {
	ks.state = to
	if b.hook != nil {
		b.hook.BreakerStateChange(key, string(to))
	}
}
