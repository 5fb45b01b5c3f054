package engine

import (
	"context"
	"fmt"
)

// #region scripted
// RunCall records the arguments of one Run invocation.
type RunCall struct {
	Observations       []int // absolute observation indices
	Steps              int
	Restarts           int
	Expansions         int
	MaxOuterIterations int
}

// Scripted is an in-process Engine that replays canned statistics. Each Run
// consumes the next reply; the last reply repeats once the script runs out.
// Replies without predictions echo every recorded scalar label, and replies
// without assignments put every observation in cluster 0.
type Scripted struct {
	Replies []RunStats
	// Params are per-parameter-set targets for SquaredDistanceTo.
	Params []float64
	// Values answers Value lookups by state hash.
	Values map[int64]float64
	// RunErr, when set, is returned by every Run.
	RunErr error

	Calls      []RunCall
	LastLabels []int

	cursor int
	last   RunStats
	ran    bool
}

var _ Engine = (*Scripted)(nil)

// Run records the call and prepares the next scripted reply.
func (s *Scripted) Run(_ context.Context, batch []Observation, restarts, expansions, maxOuterIterations int) error {
	call := RunCall{Restarts: restarts, Expansions: expansions, MaxOuterIterations: maxOuterIterations}
	for _, o := range batch {
		call.Observations = append(call.Observations, o.Index)
		call.Steps += len(o.Transitions)
	}
	s.Calls = append(s.Calls, call)
	if s.RunErr != nil {
		return s.RunErr
	}

	var reply RunStats
	if len(s.Replies) > 0 {
		i := s.cursor
		if i >= len(s.Replies) {
			i = len(s.Replies) - 1
		}
		reply = s.Replies[i]
		s.cursor++
	}
	s.last = shape(truncate(reply, maxOuterIterations), batch)
	s.ran = true
	return nil
}

// LatestRunStats returns the reply prepared by the last Run.
func (s *Scripted) LatestRunStats(_ context.Context, groundTruth []int) (RunStats, error) {
	if !s.ran {
		return RunStats{}, fmt.Errorf("no run has completed")
	}
	s.LastLabels = append([]int(nil), groundTruth...)
	return s.last, nil
}

// Value returns the scripted value for stateHash.
func (s *Scripted) Value(_ context.Context, stateHash int64, paramIndex int) (float64, error) {
	if paramIndex < 0 || paramIndex >= len(s.Params) {
		return 0, fmt.Errorf("param index %d out of range", paramIndex)
	}
	v, ok := s.Values[stateHash]
	if !ok {
		return 0, fmt.Errorf("unknown state hash %d", stateHash)
	}
	return v, nil
}

// SquaredDistanceTo sums squared differences between each scalar label and
// the parameter set's target.
func (s *Scripted) SquaredDistanceTo(_ context.Context, obs Observation, paramIndex int) (float64, error) {
	if paramIndex < 0 || paramIndex >= len(s.Params) {
		return 0, fmt.Errorf("param index %d out of range", paramIndex)
	}
	var sum float64
	for _, r := range obs.Transitions {
		d := r.ScalarLabel - s.Params[paramIndex]
		sum += d * d
	}
	return sum, nil
}

// #endregion scripted

// #region helpers
func truncate(r RunStats, max int) RunStats {
	if max <= 0 || r.Iterations() <= max {
		return r
	}
	cut := func(n int) int {
		if n < max {
			return n
		}
		return max
	}
	r.FeatureCounts = r.FeatureCounts[:cut(len(r.FeatureCounts))]
	r.ClusterCounts = r.ClusterCounts[:cut(len(r.ClusterCounts))]
	r.Objectives = r.Objectives[:cut(len(r.Objectives))]
	r.ElapsedTimes = r.ElapsedTimes[:cut(len(r.ElapsedTimes))]
	r.Accuracies = r.Accuracies[:cut(len(r.Accuracies))]
	if r.Predictions != nil {
		r.Predictions = r.Predictions[:cut(len(r.Predictions))]
	}
	if r.Assignments != nil {
		r.Assignments = r.Assignments[:cut(len(r.Assignments))]
	}
	return r
}

func shape(r RunStats, batch []Observation) RunStats {
	n := r.Iterations()
	if r.Predictions == nil {
		r.Predictions = make([][][]float64, n)
		for it := range r.Predictions {
			r.Predictions[it] = make([][]float64, len(batch))
			for i, o := range batch {
				preds := make([]float64, len(o.Transitions))
				for j, rec := range o.Transitions {
					preds[j] = rec.ScalarLabel
				}
				r.Predictions[it][i] = preds
			}
		}
	}
	if r.Assignments == nil {
		r.Assignments = make([][]int, n)
		for it := range r.Assignments {
			r.Assignments[it] = make([]int, len(batch))
		}
	}
	return r
}

// #endregion helpers
