package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/learner"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description  string              `json:"description"`
	Config       FixtureConfig       `json:"config"`
	Trajectories []FixtureTrajectory `json:"trajectories"`
	// EngineReplies script the in-process engine, one reply per Run.
	EngineReplies []FixtureRunStats `json:"engine_replies"`
	// ExpectedReclusterAfter lists the observation counts after which a
	// reclustering must fire.
	ExpectedReclusterAfter []int `json:"expected_recluster_after"`
}

// FixtureConfig mirrors learner.Config with JSON tags, plus the fixture
// domain's ground truth.
type FixtureConfig struct {
	Domain                     string  `json:"domain"`
	StateDim                   int     `json:"state_dim"`
	InitialFeatures            int     `json:"initial_features"`
	TrajectoriesPerObservation int     `json:"trajectories_per_observation"`
	BatchSize                  int     `json:"batch_size"`
	RestartCount               int     `json:"restart_count"`
	ExpansionCount             int     `json:"expansion_count"`
	MaxIterations              int     `json:"max_iterations"`
	Epsilon                    float64 `json:"epsilon"`
	ObjectivePenalty           float64 `json:"objective_penalty"`
	ForceContinue              bool    `json:"force_continue"`
	// TruthWeights[label] is dotted with the state to give the ground truth
	// of a state under that hidden label.
	TruthWeights [][]float64 `json:"truth_weights"`
}

// FixtureTrajectory is one recorded episode.
type FixtureTrajectory struct {
	HiddenLabel int           `json:"hidden_label"`
	Policy      string        `json:"policy"`
	Premature   bool          `json:"premature"`
	Steps       []FixtureStep `json:"steps"`
}

// FixtureStep mirrors learner.Transition with JSON tags.
type FixtureStep struct {
	State           []float64 `json:"state"`
	Reward          float64   `json:"reward"`
	EstimatedAction float64   `json:"estimated_action"`
}

// FixtureRunStats mirrors engine.RunStats with JSON tags.
type FixtureRunStats struct {
	FeatureCounts []int         `json:"feature_counts"`
	ClusterCounts []int         `json:"cluster_counts"`
	Objectives    []float64     `json:"objectives"`
	ElapsedTimes  []float64     `json:"elapsed_times"`
	Accuracies    []float64     `json:"accuracies"`
	Predictions   [][][]float64 `json:"predictions,omitempty"`
	Assignments   [][]int       `json:"assignments,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Trajectories) == 0 {
		return nil, fmt.Errorf("fixture %s: no trajectories", path)
	}
	return &f, nil
}

// TrajectoryLengths is the length table the window allocator is sized from.
func (f *Fixture) TrajectoryLengths() []int {
	out := make([]int, len(f.Trajectories))
	for i, t := range f.Trajectories {
		out[i] = len(t.Steps)
	}
	return out
}

// Policies returns one policy per trajectory, named by the fixture.
func (f *Fixture) Policies() []domain.Policy {
	out := make([]domain.Policy, len(f.Trajectories))
	for i, t := range f.Trajectories {
		id := t.Policy
		if id == "" {
			id = fmt.Sprintf("trajectory-%d", i)
		}
		out[i] = namedPolicy(id)
	}
	return out
}

// ToLearnerConfig converts the fixture config for trajectories of the given lengths.
func (fc *FixtureConfig) ToLearnerConfig(lengths []int) learner.Config {
	return learner.Config{
		Domain:                     fc.Domain,
		StateDim:                   fc.StateDim,
		TrajectoryLengths:          lengths,
		TrajectoriesPerObservation: fc.TrajectoriesPerObservation,
		BatchSize:                  fc.BatchSize,
		RestartCount:               fc.RestartCount,
		ExpansionCount:             fc.ExpansionCount,
		MaxIterations:              fc.MaxIterations,
		Epsilon:                    fc.Epsilon,
		ObjectivePenalty:           fc.ObjectivePenalty,
		ForceContinue:              fc.ForceContinue,
	}
}

// ToTransition converts a FixtureStep to a learner Transition.
func (s *FixtureStep) ToTransition() learner.Transition {
	return learner.Transition{
		State:           s.State,
		Reward:          s.Reward,
		EstimatedAction: s.EstimatedAction,
	}
}

// ToRunStats converts a FixtureRunStats to engine statistics.
func (r *FixtureRunStats) ToRunStats() engine.RunStats {
	return engine.RunStats{
		FeatureCounts: r.FeatureCounts,
		ClusterCounts: r.ClusterCounts,
		Objectives:    r.Objectives,
		ElapsedTimes:  r.ElapsedTimes,
		Accuracies:    r.Accuracies,
		Predictions:   r.Predictions,
		Assignments:   r.Assignments,
	}
}

// #endregion fixture-loader
