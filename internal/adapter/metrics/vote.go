package metrics

import "github.com/prometheus/client_golang/prometheus"

// VoteMetrics holds Prometheus metrics for the vote aggregation pipeline.
type VoteMetrics struct {
	VotesProcessed     *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	VotesByChoice      *prometheus.CounterVec
	InFlight           prometheus.Gauge
}

// NewVoteMetrics creates and registers vote pipeline metrics on the given registry.
func NewVoteMetrics(reg prometheus.Registerer) *VoteMetrics {
	m := &VoteMetrics{
		VotesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_processed_total",
			Help:      "Total number of vote attempts, by result.",
		}, []string{"result"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "votes_processing_duration_seconds",
			Help:      "Duration of vote processing in seconds, including store persistence.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		VotesByChoice: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_by_choice_total",
			Help:      "Total number of persisted votes, by choice.",
		}, []string{"choice"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "votes_in_flight",
			Help:      "Number of optimistic vote increments awaiting persistence.",
		}),
	}

	reg.MustRegister(m.VotesProcessed, m.ProcessingDuration, m.VotesByChoice, m.InFlight)
	return m
}
