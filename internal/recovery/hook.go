package recovery

// Hook receives observability events from the recovery core. Implementations
// must be safe for concurrent use. A nil hook disables emission.
type Hook interface {
	// RetryAttempt fires once per failed attempt that will be retried.
	RetryAttempt(resource, category string)

	// RetryExhausted fires when a unit of work consumes its full retry budget.
	RetryExhausted(resource, category string)

	// BreakerStateChange fires on every circuit breaker transition.
	BreakerStateChange(resource, state string)
}
