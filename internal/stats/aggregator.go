package stats

import (
	"fmt"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
)

// #region types
// Truth evaluates the domain's ground-truth function. domain.Domain satisfies it.
type Truth interface {
	GroundTruth(state []float64, hiddenLabel int) float64
}

// BatchInput describes the batch the engine just processed.
type BatchInput struct {
	BatchIndex   int
	Observations []engine.Observation
	Labels       []int // hidden label per observation, aligned with Observations
	StepsInBatch int
	TotalSteps   int // lifetime steps observed when the batch closed
}

// #endregion types

// #region aggregator
// Aggregator turns engine statistics into globally numbered records and owns
// the run's Log.
type Aggregator struct {
	truth           Truth
	log             *Log
	outerIterations int
	timesteps       int
}

// NewAggregator creates an aggregator appending into log.
func NewAggregator(truth Truth, log *Log) *Aggregator {
	return &Aggregator{truth: truth, log: log}
}

// Log returns the accumulator the aggregator appends to.
func (a *Aggregator) Log() *Log { return a.log }

// OuterIterations is the number of outer iterations committed so far.
func (a *Aggregator) OuterIterations() int { return a.outerIterations }

// Timesteps counts completed batches.
func (a *Aggregator) Timesteps() int { return a.timesteps }

// Evaluate builds records for stats without touching the log. Numbering
// continues from the committed outer iteration count.
func (a *Aggregator) Evaluate(stats engine.RunStats, in BatchInput) ([]OuterIterationRecord, error) {
	if err := stats.Validate(in.Observations); err != nil {
		return nil, fmt.Errorf("batch %d: %w", in.BatchIndex, err)
	}
	if len(in.Labels) != len(in.Observations) {
		return nil, fmt.Errorf("batch %d: %d labels for %d observations", in.BatchIndex, len(in.Labels), len(in.Observations))
	}

	recs := make([]OuterIterationRecord, stats.Iterations())
	for it := range recs {
		recs[it] = OuterIterationRecord{
			OuterIteration:   a.outerIterations + it + 1,
			TotalSteps:       in.TotalSteps,
			FeatureCount:     stats.FeatureCounts[it],
			MeanSquaredError: a.meanSquaredError(stats.Predictions[it], in),
			ElapsedSeconds:   stats.ElapsedTimes[it],
			ClusterCount:     stats.ClusterCounts[it],
			Objective:        stats.Objectives[it],
			ClusterAccuracy:  stats.Accuracies[it],
			BatchIndex:       in.BatchIndex,
		}
	}
	return recs, nil
}

// CloseBatch appends a batch's evaluated records, advances the numbering
// offset and counts the batch. Nothing reaches the log before this call.
func (a *Aggregator) CloseBatch(recs []OuterIterationRecord) {
	a.log.Append(recs...)
	a.outerIterations += len(recs)
	a.timesteps++
}

func (a *Aggregator) meanSquaredError(preds [][]float64, in BatchInput) float64 {
	if in.StepsInBatch == 0 {
		return 0
	}
	var sum float64
	for i, obs := range in.Observations {
		for j, rec := range obs.Transitions {
			d := preds[i][j] - a.truth.GroundTruth(rec.State, in.Labels[i])
			sum += d * d
		}
	}
	return sum / float64(in.StepsInBatch)
}

// #endregion aggregator
