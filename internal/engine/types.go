package engine

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/window"
)

// #region observation
// Observation is one window handed to the engine.
type Observation struct {
	Index       int // absolute observation index
	Domain      domain.Kind
	Transitions []window.Record
}

// #endregion observation

// #region run-stats
// RunStats holds one entry per outer iteration of the last Run.
type RunStats struct {
	FeatureCounts []int
	ClusterCounts []int
	Objectives    []float64
	ElapsedTimes  []float64 // seconds
	Accuracies    []float64
	// Predictions[iter][obs][step] is the engine's estimate for each recorded
	// state of each observation in the batch, in submission order.
	Predictions [][][]float64
	// Assignments[iter][obs] is the cluster chosen for each observation.
	Assignments [][]int
}

// Iterations is the number of outer iterations reported.
func (s RunStats) Iterations() int { return len(s.Objectives) }

// Validate checks that every per-iteration slice has the same length and that
// predictions line up with the submitted batch.
func (s RunStats) Validate(observations []Observation) error {
	n := s.Iterations()
	lens := map[string]int{
		"feature_counts": len(s.FeatureCounts),
		"cluster_counts": len(s.ClusterCounts),
		"elapsed_times":  len(s.ElapsedTimes),
		"accuracies":     len(s.Accuracies),
		"predictions":    len(s.Predictions),
	}
	for name, l := range lens {
		if l != n {
			return fmt.Errorf("%s has %d entries, objectives has %d", name, l, n)
		}
	}
	if s.Assignments != nil && len(s.Assignments) != n {
		return fmt.Errorf("assignments has %d entries, objectives has %d", len(s.Assignments), n)
	}
	for it, perObs := range s.Predictions {
		if len(perObs) != len(observations) {
			return fmt.Errorf("iteration %d: predictions for %d observations, batch has %d", it, len(perObs), len(observations))
		}
		for i, preds := range perObs {
			if len(preds) != len(observations[i].Transitions) {
				return fmt.Errorf("iteration %d observation %d: %d predictions for %d transitions",
					it, observations[i].Index, len(preds), len(observations[i].Transitions))
			}
		}
	}
	return nil
}

// #endregion run-stats

// #region engine
// Engine is the external clustering and feature-discovery engine. Run blocks
// until the engine finishes and mutates engine-side state read by the other
// calls.
type Engine interface {
	Run(ctx context.Context, batch []Observation, restarts, expansions, maxOuterIterations int) error
	LatestRunStats(ctx context.Context, groundTruth []int) (RunStats, error)
	Value(ctx context.Context, stateHash int64, paramIndex int) (float64, error)
	SquaredDistanceTo(ctx context.Context, obs Observation, paramIndex int) (float64, error)
}

// #endregion engine
