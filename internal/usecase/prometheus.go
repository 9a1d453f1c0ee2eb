package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics holds the Prometheus instruments for the run flow.
type RunMetrics struct {
	Started   prometheus.Counter
	Completed prometheus.Counter
	Failed    prometheus.Counter
	Duration  prometheus.Histogram
}

// NewRunMetrics registers the run instruments on the given registerer.
func NewRunMetrics(reg prometheus.Registerer) *RunMetrics {
	m := &RunMetrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridgelab_runs_started_total",
			Help: "Processing runs accepted by the orchestrator.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridgelab_runs_completed_total",
			Help: "Processing runs that reached the Completed state.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridgelab_runs_failed_total",
			Help: "Processing runs that reached the Failed state.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ridgelab_run_duration_seconds",
			Help:    "Wall time from submission to terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Started, m.Completed, m.Failed, m.Duration)
	}
	return m
}
