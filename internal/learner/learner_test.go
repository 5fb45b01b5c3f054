package learner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/halting"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/logging"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/stats"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/window"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region fakes
type fakeDomain struct {
	label int
}

func (d *fakeDomain) HiddenStateLabel() int { return d.label }

func (d *fakeDomain) GroundTruth(_ []float64, hiddenLabel int) float64 {
	return float64(hiddenLabel)
}

type fakeRep struct {
	features int
}

func (r *fakeRep) FeatureCount() int { return r.features }

func (r *fakeRep) HashState(state []float64) int64 { return int64(state[0] * 1000) }

func (r *fakeRep) Features(state []float64) []bool {
	out := make([]bool, r.features)
	for i := range out {
		out[i] = state[0] >= 0
	}
	return out
}

type expandingRep struct {
	fakeRep
}

func (r *expandingRep) Expand(featureCount int) {
	if featureCount > r.features {
		r.features = featureCount
	}
}

// flakyEngine fails exactly one Run, counted from 1.
type flakyEngine struct {
	*engine.Scripted
	failOn int
	runs   int
}

func (e *flakyEngine) Run(ctx context.Context, batch []engine.Observation, restarts, expansions, maxOuterIterations int) error {
	e.runs++
	if e.runs == e.failOn {
		return errors.New("transient")
	}
	return e.Scripted.Run(ctx, batch, restarts, expansions, maxOuterIterations)
}

type fakePolicy string

func (p fakePolicy) ID() string { return string(p) }

func policies(n int) []domain.Policy {
	out := make([]domain.Policy, n)
	for i := range out {
		out[i] = fakePolicy("policy-" + string(rune('a'+i)))
	}
	return out
}

func lengths(n, each int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = each
	}
	return out
}

func oneIteration(features int) engine.RunStats {
	return engine.RunStats{
		FeatureCounts: []int{features},
		ClusterCounts: []int{1},
		Objectives:    []float64{4},
		ElapsedTimes:  []float64{0.25},
		Accuracies:    []float64{1},
	}
}

func baseConfig(table []int, batchSize int) Config {
	return Config{
		Domain:                     "SimpleCar",
		StateDim:                   2,
		TrajectoryLengths:          table,
		TrajectoriesPerObservation: 1,
		BatchSize:                  batchSize,
		RestartCount:               2,
		ExpansionCount:             1,
		MaxIterations:              10,
		Epsilon:                    0.01,
	}
}

func newLearner(t *testing.T, cfg Config, eng engine.Engine) *Learner {
	t.Helper()
	l, err := New(cfg, Deps{
		Engine:         eng,
		Domain:         &fakeDomain{label: 1},
		Representation: &fakeRep{features: 2},
		Policies:       policies(len(cfg.TrajectoryLengths)),
	})
	require.NoError(t, err)
	return l
}

// drive feeds every trajectory in full and returns the outcomes keyed by the
// number of observations completed when each reclustering fired.
func drive(t *testing.T, l *Learner, table []int) map[int]*ReclusterOutcome {
	t.Helper()
	ctx := context.Background()
	fired := map[int]*ReclusterOutcome{}
	perObs := l.perObs
	for traj, n := range table {
		for s := 0; s < n; s++ {
			require.NoError(t, l.ProcessTransition(Transition{State: []float64{float64(s), 1}, Reward: 1, EstimatedAction: 0.5}))
			require.True(t, l.BatchConserved(), "trajectory %d step %d", traj, s)
		}
		out, err := l.EndObservation(ctx, traj, false)
		require.NoError(t, err)
		if out != nil {
			fired[(traj+1)/perObs] = out
		}
	}
	return fired
}

func firedAt(fired map[int]*ReclusterOutcome) []int {
	var at []int
	for i := 1; i <= 1000; i++ {
		if _, ok := fired[i]; ok {
			at = append(at, i)
		}
	}
	return at
}

// #endregion fakes

// #region schedule
func TestLearner_BatchOfThreeOverTen(t *testing.T) {
	table := lengths(10, 2)
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, baseConfig(table, 3), eng)

	fired := drive(t, l, table)

	assert.Equal(t, []int{3, 6, 9, 10}, firedAt(fired))
	require.Len(t, eng.Calls, 4)
	assert.Equal(t, []int{0, 1, 2}, eng.Calls[0].Observations)
	assert.Equal(t, []int{3, 4, 5}, eng.Calls[1].Observations)
	assert.Equal(t, []int{6, 7, 8}, eng.Calls[2].Observations)
	assert.Equal(t, []int{9}, eng.Calls[3].Observations)
	assert.Equal(t, 6, eng.Calls[0].Steps)
	assert.Equal(t, 2, eng.Calls[3].Steps)
	assert.Equal(t, 2, eng.Calls[0].Restarts)
	assert.Equal(t, 10, eng.Calls[0].MaxOuterIterations)

	assert.Equal(t, logging.TriggerBatchBoundary, fired[3].Trigger)
	assert.Equal(t, logging.TriggerFinalObservation, fired[10].Trigger)
	assert.True(t, fired[10].Final)

	recs := l.Records()
	require.Len(t, recs, 4)
	for i, r := range recs {
		assert.Equal(t, i+1, r.OuterIteration)
		assert.Equal(t, i, r.BatchIndex)
	}
	assert.Equal(t, []int{6, 12, 18, 20}, []int{recs[0].TotalSteps, recs[1].TotalSteps, recs[2].TotalSteps, recs[3].TotalSteps})
	assert.Equal(t, 4, l.Timesteps())
	assert.True(t, l.Done())
	assert.Equal(t, lengths(10, 1), eng.LastLabels)
}

func TestLearner_BatchOfTwoOverSix(t *testing.T) {
	table := []int{1, 2, 3, 1, 2, 3}
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, baseConfig(table, 2), eng)

	fired := drive(t, l, table)

	assert.Equal(t, []int{2, 4, 6}, firedAt(fired))
	assert.Equal(t, 3, fired[2].Steps)
	assert.Equal(t, 4, fired[4].Steps)
	assert.Equal(t, 5, fired[6].Steps)

	recs := l.Records()
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i].TotalSteps, recs[i-1].TotalSteps)
		assert.Greater(t, recs[i].OuterIteration, recs[i-1].OuterIteration)
	}
	assert.Equal(t, Counters{Episode: 3, Batch: 0, Lifetime: 12}, l.Counters())
}

func TestLearner_MultipleTrajectoriesPerObservation(t *testing.T) {
	table := lengths(4, 2)
	cfg := baseConfig(table, 1)
	cfg.TrajectoriesPerObservation = 2
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, cfg, eng)
	ctx := context.Background()

	for s := 0; s < 2; s++ {
		require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	}
	out, err := l.EndObservation(ctx, 0, false)
	require.NoError(t, err)
	assert.Nil(t, out, "observation still open")
	assert.Equal(t, "policy-b", l.ActivePolicy().ID())
	assert.Equal(t, 0, l.Observation())
	assert.Equal(t, 0, l.Counters().Episode)
	assert.Equal(t, 2, l.Counters().Batch)

	for s := 0; s < 2; s++ {
		require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	}
	out, err = l.EndObservation(ctx, 1, false)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []int{0}, out.Observations)
	assert.Equal(t, 4, out.Steps)
	assert.Equal(t, 1, l.Observation())
	assert.Equal(t, "policy-c", l.ActivePolicy().ID())
}

func TestLearner_BatchSizeLargerThanDataset(t *testing.T) {
	table := lengths(3, 1)
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, baseConfig(table, 8), eng)

	fired := drive(t, l, table)

	assert.Equal(t, []int{3}, firedAt(fired))
	assert.Equal(t, logging.TriggerFinalObservation, fired[3].Trigger)
}

// #endregion schedule

// #region halting-loop
func TestLearner_WholeDatasetConstantOutputsConverge(t *testing.T) {
	table := lengths(4, 2)
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, baseConfig(table, 0), eng)

	fired := drive(t, l, table)

	require.Equal(t, []int{4}, firedAt(fired))
	out := fired[4]
	assert.Equal(t, halting.StateConverged, out.HaltState)
	assert.Len(t, out.Records, 1)
	assert.Len(t, eng.Calls, 1)
	assert.Equal(t, 1, eng.Calls[0].MaxOuterIterations)
	assert.Equal(t, []int{0, 1, 2, 3}, eng.Calls[0].Observations)
	assert.Len(t, l.Records(), 1)
}

func TestLearner_WholeDatasetEtaHaltDiscardsIteration(t *testing.T) {
	table := lengths(2, 2)
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(3), oneIteration(4)}}
	l := newLearner(t, baseConfig(table, 0), eng)

	fired := drive(t, l, table)

	out := fired[2]
	require.NotNil(t, out)
	assert.Equal(t, halting.StateHaltedEta, out.HaltState)
	assert.Len(t, eng.Calls, 2)
	require.Len(t, out.Records, 1, "the eta-halting iteration is discarded")
	assert.Equal(t, 1, out.Records[0].OuterIteration)
	assert.Equal(t, 3, out.Records[0].FeatureCount)
}

func TestLearner_WholeDatasetIterationCap(t *testing.T) {
	table := lengths(2, 1)
	cfg := baseConfig(table, 0)
	cfg.Epsilon = 0
	cfg.ForceContinue = true
	cfg.MaxIterations = 3
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, cfg, eng)

	fired := drive(t, l, table)

	out := fired[2]
	require.NotNil(t, out)
	assert.Equal(t, halting.StateHaltedNoImprovement, out.HaltState)
	assert.Len(t, out.Records, 3)
	assert.Len(t, eng.Calls, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{out.Records[0].OuterIteration, out.Records[1].OuterIteration, out.Records[2].OuterIteration})
}

func TestLearner_WholeDatasetEmptyStatsStall(t *testing.T) {
	table := lengths(2, 1)
	eng := &engine.Scripted{Replies: []engine.RunStats{{}}}
	l := newLearner(t, baseConfig(table, 0), eng)

	fired := drive(t, l, table)

	out := fired[2]
	require.NotNil(t, out)
	assert.Equal(t, halting.StateHaltedNoImprovement, out.HaltState)
	assert.Empty(t, out.Records)
	assert.Equal(t, 1, l.Timesteps())
}

// #endregion halting-loop

// #region errors
func TestLearner_PrematureEndingIsLoud(t *testing.T) {
	table := lengths(2, 3)
	l := newLearner(t, baseConfig(table, 1), &engine.Scripted{})
	ctx := context.Background()

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	_, err := l.EndObservation(ctx, 0, true)
	var pe *PrematureEndingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PrematureEndingError{Observation: 0, Trajectory: 0, Filled: 1, Capacity: 3}, *pe)

	_, err = l.EndObservation(ctx, 0, false)
	assert.True(t, errors.As(err, &pe), "short window detected without the flag")
}

func TestLearner_OverflowIsLoud(t *testing.T) {
	table := lengths(1, 2)
	l := newLearner(t, baseConfig(table, 1), &engine.Scripted{})

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	require.NoError(t, l.ProcessTransition(Transition{State: []float64{1, 0}}))
	err := l.ProcessTransition(Transition{State: []float64{2, 0}})
	require.Error(t, err)
	assert.ErrorIs(t, err, window.ErrWindowFull)
	assert.Equal(t, 2, l.Counters().Lifetime)
}

func TestLearner_ShortTrajectoryInsideObservation(t *testing.T) {
	table := []int{2, 2}
	cfg := baseConfig(table, 1)
	cfg.TrajectoriesPerObservation = 2
	l := newLearner(t, cfg, &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}})

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	_, err := l.EndObservation(context.Background(), 0, false)
	var pe *PrematureEndingError
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.Equal(t, PrematureEndingError{Observation: 0, Trajectory: 0, Filled: 1, Capacity: 2}, *pe)
	assert.Equal(t, "policy-a", l.ActivePolicy().ID(), "trajectory not advanced")
}

func TestLearner_LongTrajectoryInsideObservation(t *testing.T) {
	table := []int{2, 2}
	cfg := baseConfig(table, 1)
	cfg.TrajectoriesPerObservation = 2
	l := newLearner(t, cfg, &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}})
	ctx := context.Background()

	for s := 0; s < 2; s++ {
		require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	}
	out, err := l.EndObservation(ctx, 0, false)
	require.NoError(t, err)
	assert.Nil(t, out)

	for s := 0; s < 2; s++ {
		require.NoError(t, l.ProcessTransition(Transition{State: []float64{1, 0}}))
	}
	err = l.ProcessTransition(Transition{State: []float64{2, 0}})
	assert.ErrorIs(t, err, window.ErrWindowFull)
	assert.Equal(t, 4, l.Counters().Lifetime)

	out, err = l.EndObservation(ctx, 1, false)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 4, out.Steps)
}

func TestLearner_WrongTrajectoryNumber(t *testing.T) {
	table := lengths(2, 1)
	l := newLearner(t, baseConfig(table, 1), &engine.Scripted{})

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	_, err := l.EndObservation(context.Background(), 1, false)
	assert.Error(t, err)
}

func TestLearner_EngineErrorPropagates(t *testing.T) {
	table := lengths(1, 1)
	boom := errors.New("engine down")
	l := newLearner(t, baseConfig(table, 1), &engine.Scripted{RunErr: boom})

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	_, err := l.EndObservation(context.Background(), 0, false)
	assert.ErrorIs(t, err, boom)
}

func TestLearner_CallsAfterFinish(t *testing.T) {
	table := lengths(1, 1)
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l := newLearner(t, baseConfig(table, 1), eng)
	drive(t, l, table)

	assert.ErrorIs(t, l.ProcessTransition(Transition{State: []float64{0, 0}}), ErrRunFinished)
	_, err := l.EndObservation(context.Background(), 1, false)
	assert.ErrorIs(t, err, ErrRunFinished)
	assert.Equal(t, []int{1}, l.Labels())
}

func TestNew_ConfigErrors(t *testing.T) {
	good := baseConfig(lengths(2, 1), 1)
	deps := func() Deps {
		return Deps{
			Engine:         &engine.Scripted{},
			Domain:         &fakeDomain{},
			Representation: &fakeRep{features: 1},
			Policies:       policies(2),
		}
	}

	cases := []struct {
		name  string
		cfg   func(Config) Config
		deps  func(Deps) Deps
		field string
	}{
		{"unknown domain", func(c Config) Config { c.Domain = "Pendulum"; return c }, nil, "domain"},
		{"negative batch", func(c Config) Config { c.BatchSize = -1; return c }, nil, "batch_size"},
		{"no restarts", func(c Config) Config { c.RestartCount = 0; return c }, nil, "restart_count"},
		{"empty table", func(c Config) Config { c.TrajectoryLengths = nil; return c }, func(d Deps) Deps { d.Policies = nil; return d }, "trajectory_lengths"},
		{"uneven observations", func(c Config) Config {
			c.TrajectoryLengths = lengths(3, 1)
			c.TrajectoriesPerObservation = 2
			return c
		}, func(d Deps) Deps { d.Policies = policies(3); return d }, "trajectory_lengths"},
		{"policy count", nil, func(d Deps) Deps { d.Policies = policies(1); return d }, "policies"},
		{"no engine", nil, func(d Deps) Deps { d.Engine = nil; return d }, "engine"},
		{"nil policy", nil, func(d Deps) Deps { d.Policies = []domain.Policy{fakePolicy("a"), nil}; return d }, "policies"},
		{"store without run", nil, func(d Deps) Deps { d.Store = &stats.Store{}; return d }, "run_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, d := good, deps()
			if tc.cfg != nil {
				cfg = tc.cfg(cfg)
			}
			if tc.deps != nil {
				d = tc.deps(d)
			}
			l, err := New(cfg, d)
			assert.Nil(t, l)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestNew_UnknownDomainUnwraps(t *testing.T) {
	cfg := baseConfig(lengths(1, 1), 1)
	cfg.Domain = "Pendulum"
	_, err := New(cfg, Deps{
		Engine:         &engine.Scripted{},
		Domain:         &fakeDomain{},
		Representation: &fakeRep{},
		Policies:       policies(1),
	})
	var ude *domain.UnsupportedDomainError
	require.True(t, errors.As(err, &ude))
	assert.Equal(t, "Pendulum", ude.ID)
}

func TestLearner_EngineFailureLeavesLogUntouched(t *testing.T) {
	table := lengths(2, 1)
	cfg := baseConfig(table, 0)
	cfg.Epsilon = 0
	cfg.ForceContinue = true
	cfg.MaxIterations = 3
	eng := &flakyEngine{Scripted: &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}, failOn: 2}
	l := newLearner(t, cfg, eng)
	ctx := context.Background()

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	_, err := l.EndObservation(ctx, 0, false)
	require.NoError(t, err)
	require.NoError(t, l.ProcessTransition(Transition{State: []float64{1, 0}}))

	_, err = l.EndObservation(ctx, 1, false)
	require.ErrorContains(t, err, "transient")
	assert.Empty(t, l.Records(), "nothing committed from the failed batch")
	assert.Equal(t, 0, l.Timesteps())

	out, err := l.EndObservation(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, out.Records, 3)
	assert.Equal(t, out.Records, l.Records())
	for i, r := range l.Records() {
		assert.Equal(t, i+1, r.OuterIteration)
		assert.Equal(t, 0, r.BatchIndex)
	}
	assert.Equal(t, 1, l.Timesteps())
	assert.True(t, l.Done())
}

func TestLearner_PersistFailureAbortsRun(t *testing.T) {
	store, err := stats.NewStore(filepath.Join(t.TempDir(), "abort.db"))
	require.NoError(t, err)
	run, err := store.CreateRun("SimpleCar", "")
	require.NoError(t, err)

	table := lengths(2, 1)
	l, err := New(baseConfig(table, 1), Deps{
		Engine:         &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}},
		Domain:         &fakeDomain{},
		Representation: &fakeRep{features: 2},
		Policies:       policies(2),
		Store:          store,
		RunID:          run.RunID,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}}))
	_, err = l.EndObservation(ctx, 0, false)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{1, 0}}))
	_, err = l.EndObservation(ctx, 1, false)
	require.Error(t, err)
	assert.Len(t, l.Records(), 1, "the unpersisted batch is not in the log")

	_, err = l.EndObservation(ctx, 1, false)
	assert.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, l.ProcessTransition(Transition{State: []float64{1, 0}}), ErrRunAborted)
	assert.Len(t, l.Records(), 1)
}

// #endregion errors

// #region features
func TestLearner_SchemaWidensAfterRecluster(t *testing.T) {
	table := lengths(2, 1)
	cfg := baseConfig(table, 1)
	cfg.Domain = "AircraftField"
	rep := &expandingRep{fakeRep{features: 2}}
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(4)}}
	l, err := New(cfg, Deps{
		Engine:         eng,
		Domain:         &fakeDomain{},
		Representation: rep,
		Policies:       policies(2),
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{1, 0}, Reward: 3}))
	_, err = l.EndObservation(ctx, 0, false)
	require.NoError(t, err)

	assert.Equal(t, 4, l.Schema().FeatureCount)
	require.NoError(t, l.ProcessTransition(Transition{State: []float64{-1, 0}, Reward: 2}))
	_, err = l.EndObservation(ctx, 1, false)
	require.NoError(t, err)
	assert.True(t, l.Done())
}

func TestLearner_AircraftFieldLabelsWithReward(t *testing.T) {
	table := lengths(1, 2)
	cfg := baseConfig(table, 1)
	cfg.Domain = "AircraftField"
	eng := &engine.Scripted{Params: []float64{0}}
	l, err := New(cfg, Deps{
		Engine:         eng,
		Domain:         &fakeDomain{},
		Representation: &fakeRep{features: 1},
		Policies:       policies(1),
	})
	require.NoError(t, err)

	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}, Reward: 3, EstimatedAction: 9}))
	require.NoError(t, l.ProcessTransition(Transition{State: []float64{0, 0}, Reward: 4, EstimatedAction: 9}))

	d, err := l.GetSquaredDistanceTo(context.Background(), engine.Observation{
		Transitions: []window.Record{{ScalarLabel: 3}, {ScalarLabel: 4}},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 25.0, d)
}

func TestLearner_PointQueries(t *testing.T) {
	eng := &engine.Scripted{Params: []float64{1, 2}, Values: map[int64]float64{42: 0.5}}
	l := newLearner(t, baseConfig(lengths(1, 1), 1), eng)
	ctx := context.Background()

	v, err := l.GetValue(ctx, 42, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	_, err = l.GetValue(ctx, 42, 5)
	assert.Error(t, err)
}

// #endregion features

// #region persistence
func TestLearner_PersistsRecordsAndDecisions(t *testing.T) {
	store, err := stats.NewStore(filepath.Join(t.TempDir(), "learner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	run, err := store.CreateRun("SimpleCar", "{}")
	require.NoError(t, err)

	table := lengths(4, 2)
	eng := &engine.Scripted{Replies: []engine.RunStats{oneIteration(2)}}
	l, err := New(baseConfig(table, 3), Deps{
		Engine:         eng,
		Domain:         &fakeDomain{label: 2},
		Representation: &fakeRep{features: 2},
		Policies:       policies(4),
		Store:          store,
		RunID:          run.RunID,
	})
	require.NoError(t, err)

	before := testutil.ToFloat64(reclustersTotal.WithLabelValues(logging.TriggerFinalObservation))
	drive(t, l, table)
	assert.Equal(t, before+1, testutil.ToFloat64(reclustersTotal.WithLabelValues(logging.TriggerFinalObservation)))

	got, err := store.ListRecords(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(l.Records(), got); diff != "" {
		t.Errorf("persisted records mismatch (-want +got):\n%s", diff)
	}

	entries, err := logging.ListReclusters(store.DB(), run.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, logging.TriggerBatchBoundary, entries[0].Trigger)
	assert.Equal(t, 2, entries[0].Observation)
	assert.Equal(t, 3, entries[0].Observations)
	assert.Equal(t, 6, entries[0].Steps)
	assert.Equal(t, logging.TriggerFinalObservation, entries[1].Trigger)
	assert.Equal(t, 3, entries[1].Observation)
}

// #endregion persistence
