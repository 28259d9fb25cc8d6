package metrics

import "github.com/prometheus/client_golang/prometheus"

// AnalysisMetrics holds Prometheus metrics for credibility analyses.
type AnalysisMetrics struct {
	Analyses      *prometheus.CounterVec
	StoryLoads    *prometheus.CounterVec
	SharedLoads   prometheus.Counter
	AnalyzeTiming prometheus.Histogram
}

// NewAnalysisMetrics creates and registers analysis metrics on the given registry.
func NewAnalysisMetrics(reg prometheus.Registerer) *AnalysisMetrics {
	m := &AnalysisMetrics{
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Total number of analysis requests, by result.",
		}, []string{"result"}),
		StoryLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "story_loads_total",
			Help:      "Total number of story loads from the store, by status.",
		}, []string{"status"}),
		SharedLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "shared_loads_total",
			Help:      "Total number of story loads answered by a concurrent in-flight load.",
		}),
		AnalyzeTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Duration of story analysis in seconds, including store reads.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}

	reg.MustRegister(m.Analyses, m.StoryLoads, m.SharedLoads, m.AnalyzeTiming)
	return m
}
