package learner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region metrics
var (
	transitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hidden_type_transitions_total",
		Help: "Transitions recorded into windows",
	})

	// Labels: "batch_boundary", "final_observation"
	reclustersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidden_type_reclusters_total",
		Help: "Reclustering events by trigger",
	}, []string{"trigger"})

	outerIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hidden_type_outer_iterations_total",
		Help: "Outer iteration records appended to the statistics log",
	})

	engineRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hidden_type_engine_run_duration_seconds",
		Help:    "Wall time of blocking engine runs",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 300},
	})

	haltOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hidden_type_halt_outcomes_total",
		Help: "Terminal states of the single-batch halting loop",
	}, []string{"state"})
)

// #endregion metrics
