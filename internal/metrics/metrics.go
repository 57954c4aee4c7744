package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts tracks retried attempts per resource and error category.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_retry_attempts_total",
			Help: "Total number of retried attempts",
		},
		[]string{"resource", "category"},
	)

	// RetriesExhausted tracks units of work that consumed their retry budget.
	RetriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_retries_exhausted_total",
			Help: "Total number of units of work that exhausted retries",
		},
		[]string{"resource", "category"},
	)

	// BreakerTransitions tracks circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"resource", "state"},
	)

	// BreakerState exposes the current breaker state per resource
	// (0 = closed, 1 = half_open, 2 = open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"resource"},
	)

	// DLQEnqueued tracks tasks parked in the dead letter queue.
	DLQEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_dlq_enqueued_total",
			Help: "Total number of tasks enqueued into the dead letter queue",
		},
		[]string{"category"},
	)

	// DLQRetries tracks DLQ re-execution outcomes.
	DLQRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_dlq_retries_total",
			Help: "Total number of dead letter queue re-executions",
		},
		[]string{"outcome"},
	)

	// DLQExhausted tracks tasks that exhausted their DLQ retry budget.
	DLQExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_dlq_exhausted_total",
			Help: "Total number of tasks exhausted in the dead letter queue",
		},
	)

	// DLQArchived tracks tasks removed via archive.
	DLQArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_dlq_archived_total",
			Help: "Total number of archived dead letter tasks",
		},
	)

	// DLQSize tracks the current queue depth.
	DLQSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_dlq_size",
			Help: "Current number of tasks in the dead letter queue",
		},
	)

	// DBConnectionPoolUsage tracks mirror database pool utilization.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_db_pool_usage_percent",
			Help: "Mirror database connection pool usage percentage",
		},
	)
)

// Hook adapts the Prometheus collectors to the recovery and dlq hook
// interfaces. Construct once at process start and pass by reference.
type Hook struct{}

// NewHook returns the Prometheus-backed observability hook.
func NewHook() *Hook {
	return &Hook{}
}

func (*Hook) RetryAttempt(resource, category string) {
	RetryAttempts.WithLabelValues(resource, category).Inc()
}

func (*Hook) RetryExhausted(resource, category string) {
	RetriesExhausted.WithLabelValues(resource, category).Inc()
}

func (*Hook) BreakerStateChange(resource, state string) {
	BreakerTransitions.WithLabelValues(resource, state).Inc()
	BreakerState.WithLabelValues(resource).Set(stateValue(state))
}

func (*Hook) TaskEnqueued(category string) {
	DLQEnqueued.WithLabelValues(category).Inc()
}

func (*Hook) TaskRetried(outcome string) {
	DLQRetries.WithLabelValues(outcome).Inc()
}

func (*Hook) TaskExhausted() {
	DLQExhausted.Inc()
}

func (*Hook) TaskArchived() {
	DLQArchived.Inc()
}

func (*Hook) QueueSize(n int) {
	DLQSize.Set(float64(n))
}

func stateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	}
	return 0
}
