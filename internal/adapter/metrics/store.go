package metrics

import "github.com/prometheus/client_golang/prometheus"

// StoreMetrics holds Prometheus metrics for story store backends.
type StoreMetrics struct {
	Operations          *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerFlips *prometheus.CounterVec
}

// NewStoreMetrics creates and registers store metrics on the given registry.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations, by backend, operation and status.",
		}, []string{"backend", "operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"backend", "operation"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),
		CircuitBreakerFlips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions, by backend and new state.",
		}, []string{"backend", "state"}),
	}

	reg.MustRegister(m.Operations, m.OperationDuration, m.CircuitBreakerState, m.CircuitBreakerFlips)
	return m
}
