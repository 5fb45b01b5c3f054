package learner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/halting"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/logging"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/stats"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/window"
)

// #region learner-struct

// Learner batches streamed transitions into per-observation windows and hands
// each completed batch to the clustering engine. It is not safe for
// concurrent use; at most one engine run is in flight.
type Learner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	schema    domain.Schema
	alloc     *window.Allocator
	batch     window.Batch
	labels    []int // ground-truth hidden label per observation
	agg       *stats.Aggregator
	batchSize int
	perObs    int

	observation   int
	trajectory    int
	episodeSteps  int
	lifetimeSteps int
	batchIndex    int
	policy        domain.Policy
	done          bool
	failed        error // set when a batch could not be persisted
}

// #endregion learner-struct

// #region constructor

// New validates the configuration and opens the first window. On error nothing
// is initialized.
func New(cfg Config, deps Deps) (*Learner, error) {
	switch {
	case deps.Engine == nil:
		return nil, &ConfigError{Field: "engine", Reason: "required"}
	case deps.Domain == nil:
		return nil, &ConfigError{Field: "domain", Reason: "collaborator required"}
	case deps.Representation == nil:
		return nil, &ConfigError{Field: "representation", Reason: "required"}
	case deps.Store != nil && deps.RunID == "":
		return nil, &ConfigError{Field: "run_id", Reason: "required with a store"}
	case cfg.BatchSize < 0:
		return nil, &ConfigError{Field: "batch_size", Reason: fmt.Sprintf("negative (%d)", cfg.BatchSize)}
	case cfg.RestartCount < 1:
		return nil, &ConfigError{Field: "restart_count", Reason: fmt.Sprintf("must be at least 1, got %d", cfg.RestartCount)}
	case cfg.ExpansionCount < 0:
		return nil, &ConfigError{Field: "expansion_count", Reason: fmt.Sprintf("negative (%d)", cfg.ExpansionCount)}
	case cfg.MaxIterations < 1:
		return nil, &ConfigError{Field: "max_iterations", Reason: fmt.Sprintf("must be at least 1, got %d", cfg.MaxIterations)}
	case cfg.Epsilon < 0:
		return nil, &ConfigError{Field: "epsilon", Reason: fmt.Sprintf("negative (%g)", cfg.Epsilon)}
	case len(deps.Policies) != len(cfg.TrajectoryLengths):
		return nil, &ConfigError{Field: "policies", Reason: fmt.Sprintf("%d policies for %d trajectories",
			len(deps.Policies), len(cfg.TrajectoryLengths))}
	}

	for i, p := range deps.Policies {
		if p == nil {
			return nil, &ConfigError{Field: "policies", Reason: fmt.Sprintf("policy for trajectory %d is nil", i)}
		}
	}

	schema, err := domain.ResolveSchema(cfg.Domain, cfg.StateDim, deps.Representation.FeatureCount())
	if err != nil {
		return nil, &ConfigError{Field: "domain", Reason: "cannot resolve schema", Err: err}
	}

	perObs := cfg.TrajectoriesPerObservation
	if perObs == 0 {
		perObs = 1
	}
	alloc, err := window.NewAllocator(cfg.TrajectoryLengths, perObs, schema)
	if err != nil {
		return nil, &ConfigError{Field: "trajectory_lengths", Reason: "invalid length table", Err: err}
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = alloc.Observations()
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	first, err := alloc.Open(0)
	if err != nil {
		return nil, &ConfigError{Field: "trajectory_lengths", Reason: "cannot open first window", Err: err}
	}

	l := &Learner{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		schema:    schema,
		alloc:     alloc,
		labels:    make([]int, alloc.Observations()),
		agg:       stats.NewAggregator(deps.Domain, &stats.Log{}),
		batchSize: batchSize,
		perObs:    perObs,
		policy:    deps.Policies[0],
	}
	l.batch.Add(first)

	logger.Info("[LEARNER] initialized",
		zap.String("domain", schema.Kind.String()),
		zap.Int("trajectories", len(cfg.TrajectoryLengths)),
		zap.Int("observations", alloc.Observations()),
		zap.Int("batch_size", batchSize),
		zap.Bool("halting_loop", cfg.BatchSize == 0))
	return l, nil
}

// #endregion constructor

// #region process-transition

// ProcessTransition records one environment step into the open window.
func (l *Learner) ProcessTransition(tr Transition) error {
	if err := l.usable(); err != nil {
		return err
	}
	if length := l.cfg.TrajectoryLengths[l.trajectory]; l.episodeSteps >= length {
		err := fmt.Errorf("trajectory %d step %d: length table allows %d transitions: %w",
			l.trajectory, l.episodeSteps, length, window.ErrWindowFull)
		l.logger.Error("[LEARNER] transition rejected",
			zap.Int("observation", l.observation),
			zap.Int("trajectory", l.trajectory),
			zap.Error(err))
		return err
	}
	rep := l.deps.Representation
	rec := window.Record{
		StateHash:   rep.HashState(tr.State),
		State:       append([]float64(nil), tr.State...),
		ScalarLabel: l.schema.ScalarLabel(tr.Reward, tr.EstimatedAction),
		Reward:      tr.Reward,
	}
	if l.schema.HasFeatureBlock() {
		rec.Features = rep.Features(tr.State)
	}

	w := l.batch.Current()
	if err := l.batch.Record(w.Len(), rec); err != nil {
		l.logger.Error("[LEARNER] transition rejected",
			zap.Int("observation", l.observation),
			zap.Int("trajectory", l.trajectory),
			zap.Int("episode_step", l.episodeSteps),
			zap.Error(err))
		return fmt.Errorf("trajectory %d step %d: %w", l.trajectory, l.episodeSteps, err)
	}
	l.episodeSteps++
	l.lifetimeSteps++
	transitionsTotal.Inc()
	return nil
}

// #endregion process-transition

// #region end-observation

// EndObservation closes trajectoryNumber. When the trajectory completes an
// observation the ground-truth label is recorded and, on a batch boundary or
// at the final observation, the batch is reclustered. The returned outcome is
// nil when no reclustering happened.
func (l *Learner) EndObservation(ctx context.Context, trajectoryNumber int, premature bool) (*ReclusterOutcome, error) {
	if err := l.usable(); err != nil {
		return nil, err
	}
	if trajectoryNumber != l.trajectory {
		return nil, fmt.Errorf("trajectory %d ended, current trajectory is %d", trajectoryNumber, l.trajectory)
	}

	w := l.batch.Current()
	nextTrajectory := trajectoryNumber + 1
	closesObservation := nextTrajectory%l.perObs == 0

	if length := l.cfg.TrajectoryLengths[trajectoryNumber]; premature || l.episodeSteps < length {
		err := &PrematureEndingError{
			Observation: l.observation,
			Trajectory:  trajectoryNumber,
			Filled:      l.episodeSteps,
			Capacity:    length,
		}
		l.logger.Error("[LEARNER] premature episode ending", zap.Error(err))
		return nil, err
	}

	if !closesObservation {
		l.advanceTrajectory(nextTrajectory)
		return nil, nil
	}

	w.Close()
	l.labels[l.observation] = l.deps.Domain.HiddenStateLabel()
	nextObservation := l.observation + 1
	final := nextTrajectory >= len(l.cfg.TrajectoryLengths)

	var outcome *ReclusterOutcome
	if nextObservation%l.batchSize == 0 || final {
		trigger := logging.TriggerBatchBoundary
		if final {
			trigger = logging.TriggerFinalObservation
		}
		var err error
		outcome, err = l.recluster(ctx, trigger, final)
		if err != nil {
			return nil, err
		}
	}

	if final {
		l.done = true
		l.logger.Info("[LEARNER] run complete",
			zap.Int("observations", nextObservation),
			zap.Int("lifetime_steps", l.lifetimeSteps),
			zap.Int("outer_iterations", l.agg.OuterIterations()))
		return outcome, nil
	}

	next, err := l.alloc.Open(nextObservation)
	if err != nil {
		return nil, fmt.Errorf("open observation %d: %w", nextObservation, err)
	}
	l.batch.Add(next)
	l.observation = nextObservation
	l.advanceTrajectory(nextTrajectory)
	return outcome, nil
}

func (l *Learner) advanceTrajectory(next int) {
	prev := l.policy
	l.trajectory = next
	l.episodeSteps = 0
	l.policy = l.deps.Policies[next]
	l.logger.Debug("[LEARNER] policy switch",
		zap.Int("trajectory", next),
		zap.String("from", prev.ID()),
		zap.String("to", l.policy.ID()))
}

// #endregion end-observation

// #region recluster

func (l *Learner) recluster(ctx context.Context, trigger string, final bool) (*ReclusterOutcome, error) {
	if !l.batch.Conserved() {
		return nil, fmt.Errorf("batch %d: window lengths do not sum to %d batch steps", l.batchIndex, l.batch.Steps())
	}

	windows := l.batch.Windows()
	obs := make([]engine.Observation, len(windows))
	labels := make([]int, len(windows))
	indices := make([]int, len(windows))
	for i, w := range windows {
		obs[i] = engine.Observation{Index: w.Observation(), Domain: l.schema.Kind, Transitions: w.Transitions()}
		labels[i] = l.labels[w.Observation()]
		indices[i] = w.Observation()
	}
	in := stats.BatchInput{
		BatchIndex:   l.batchIndex,
		Observations: obs,
		Labels:       labels,
		StepsInBatch: l.batch.Steps(),
		TotalSteps:   l.lifetimeSteps,
	}
	outcome := &ReclusterOutcome{
		BatchIndex:   l.batchIndex,
		Trigger:      trigger,
		Observations: indices,
		Steps:        l.batch.Steps(),
		Final:        final,
	}

	l.logger.Info("[LEARNER] reclustering",
		zap.Int("batch", l.batchIndex),
		zap.String("trigger", trigger),
		zap.Int("observations", len(obs)),
		zap.Int("steps", in.StepsInBatch))

	var err error
	if l.cfg.BatchSize == 0 {
		outcome.Records, outcome.HaltState, outcome.HaltReason, err = l.runHalting(ctx, obs, in)
	} else {
		outcome.Records, err = l.runBatch(ctx, obs, in)
	}
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", l.batchIndex, err)
	}
	reclustersTotal.WithLabelValues(trigger).Inc()
	outerIterationsTotal.Add(float64(len(outcome.Records)))

	if err := l.persist(outcome, indices[len(indices)-1]); err != nil {
		l.failed = err
		l.logger.Error("[LEARNER] run aborted", zap.Int("batch", l.batchIndex), zap.Error(err))
		return nil, err
	}
	l.agg.CloseBatch(outcome.Records)
	l.widen()

	l.batch.Reset()
	l.batchIndex++
	return outcome, nil
}

func (l *Learner) runBatch(ctx context.Context, obs []engine.Observation, in stats.BatchInput) ([]stats.OuterIterationRecord, error) {
	if err := l.runEngine(ctx, obs, l.cfg.ExpansionCount, l.cfg.MaxIterations); err != nil {
		return nil, err
	}
	st, err := l.deps.Engine.LatestRunStats(ctx, l.labels[:l.observation+1])
	if err != nil {
		return nil, fmt.Errorf("latest run stats: %w", err)
	}
	return l.agg.Evaluate(st, in)
}

// runHalting repeats single-iteration engine runs over the whole dataset
// until the halting policy reaches a terminal state. Kept records are
// numbered after the committed ones but not committed here.
func (l *Learner) runHalting(ctx context.Context, obs []engine.Observation, in stats.BatchInput) ([]stats.OuterIterationRecord, halting.State, string, error) {
	policy := halting.NewPolicy(halting.Config{
		Eta:              l.cfg.Epsilon,
		ObjectivePenalty: l.cfg.ObjectivePenalty,
		ForceContinue:    l.cfg.ForceContinue,
		MaxIterations:    l.cfg.MaxIterations,
	}, l.deps.Representation.FeatureCount(), l.logger)

	var kept []stats.OuterIterationRecord
	var reason string
	for !policy.State().Terminal() {
		if err := l.runEngine(ctx, obs, l.cfg.ExpansionCount, 1); err != nil {
			return nil, "", "", err
		}
		st, err := l.deps.Engine.LatestRunStats(ctx, l.labels[:l.observation+1])
		if err != nil {
			return nil, "", "", fmt.Errorf("latest run stats: %w", err)
		}
		if st.Iterations() == 0 {
			reason = policy.Stall("engine reported no outer iterations").Reason
			break
		}
		recs, err := l.agg.Evaluate(st, in)
		if err != nil {
			return nil, "", "", err
		}
		for i, rec := range recs {
			d := policy.Step(halting.Iteration{
				Objective:       rec.Objective,
				SumSquaredError: rec.MeanSquaredError * float64(in.StepsInBatch),
				FeatureCount:    rec.FeatureCount,
				Assignments:     assignmentsAt(st, i),
			})
			if d.Keep {
				rec.OuterIteration = l.agg.OuterIterations() + len(kept) + 1
				kept = append(kept, rec)
			}
			if d.State.Terminal() {
				reason = d.Reason
				l.logger.Info("[LEARNER] halting loop stopped",
					zap.String("state", string(d.State)),
					zap.String("reason", d.Reason),
					zap.Int("iterations", policy.Iterations()))
				break
			}
		}
	}
	haltOutcomesTotal.WithLabelValues(string(policy.State())).Inc()
	return kept, policy.State(), reason, nil
}

func (l *Learner) runEngine(ctx context.Context, obs []engine.Observation, expansions, maxOuter int) error {
	start := time.Now()
	err := l.deps.Engine.Run(ctx, obs, l.cfg.RestartCount, expansions, maxOuter)
	engineRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("engine run: %w", err)
	}
	return nil
}

// widen re-resolves the schema when the representation gained features.
func (l *Learner) widen() {
	records := l.agg.Log().Records()
	if exp, ok := l.deps.Representation.(domain.Expander); ok && len(records) > 0 {
		exp.Expand(records[len(records)-1].FeatureCount)
	}
	count := l.deps.Representation.FeatureCount()
	if count == l.schema.FeatureCount {
		return
	}
	s, err := l.schema.Widen(count)
	if err != nil {
		l.logger.Warn("[LEARNER] schema not widened", zap.Int("feature_count", count), zap.Error(err))
		return
	}
	l.logger.Info("[LEARNER] schema widened",
		zap.Int("from", l.schema.FeatureCount),
		zap.Int("to", count))
	l.schema = s
	l.alloc.SetSchema(s)
}

func (l *Learner) persist(outcome *ReclusterOutcome, closingObservation int) error {
	if l.deps.Store == nil {
		return nil
	}
	if err := l.deps.Store.AppendRecords(l.deps.RunID, outcome.Records); err != nil {
		return fmt.Errorf("persist batch %d: %w", outcome.BatchIndex, err)
	}
	err := logging.LogRecluster(l.deps.Store.DB(), logging.ReclusterEntry{
		RunID:           l.deps.RunID,
		BatchIndex:      outcome.BatchIndex,
		Observation:     closingObservation,
		Trigger:         outcome.Trigger,
		Observations:    len(outcome.Observations),
		Steps:           outcome.Steps,
		OuterIterations: len(outcome.Records),
		HaltState:       string(outcome.HaltState),
		Reason:          outcome.HaltReason,
	})
	if err != nil {
		return fmt.Errorf("persist batch %d: %w", outcome.BatchIndex, err)
	}
	return nil
}

func assignmentsAt(st engine.RunStats, i int) []int {
	if i >= len(st.Assignments) {
		return nil
	}
	return st.Assignments[i]
}

// #endregion recluster

// #region queries

func (l *Learner) usable() error {
	if l.failed != nil {
		return fmt.Errorf("%w: %w", ErrRunAborted, l.failed)
	}
	if l.done {
		return ErrRunFinished
	}
	return nil
}

// GetValue delegates a value lookup to the engine.
func (l *Learner) GetValue(ctx context.Context, stateHash int64, paramIndex int) (float64, error) {
	return l.deps.Engine.Value(ctx, stateHash, paramIndex)
}

// GetSquaredDistanceTo delegates a distance query to the engine.
func (l *Learner) GetSquaredDistanceTo(ctx context.Context, obs engine.Observation, paramIndex int) (float64, error) {
	return l.deps.Engine.SquaredDistanceTo(ctx, obs, paramIndex)
}

// Records returns a copy of the statistics log.
func (l *Learner) Records() []stats.OuterIterationRecord { return l.agg.Log().Records() }

// Labels returns a copy of the ground-truth labels recorded so far.
func (l *Learner) Labels() []int {
	return append([]int(nil), l.labels[:l.recordedLabels()]...)
}

func (l *Learner) recordedLabels() int {
	if l.done {
		return len(l.labels)
	}
	return l.observation
}

// Counters returns the episode, batch and lifetime step counts.
func (l *Learner) Counters() Counters {
	return Counters{Episode: l.episodeSteps, Batch: l.batch.Steps(), Lifetime: l.lifetimeSteps}
}

// BatchConserved checks the batch-length invariant of the open batch.
func (l *Learner) BatchConserved() bool { return l.batch.Conserved() }

// BatchWindows is the number of windows in the open batch.
func (l *Learner) BatchWindows() int { return l.batch.Len() }

// Observation is the absolute index of the open observation.
func (l *Learner) Observation() int { return l.observation }

// Trajectory is the index of the running trajectory.
func (l *Learner) Trajectory() int { return l.trajectory }

// ActivePolicy is the policy of the running trajectory.
func (l *Learner) ActivePolicy() domain.Policy { return l.policy }

// Schema is the layout used for new windows.
func (l *Learner) Schema() domain.Schema { return l.schema }

// Timesteps counts processed batches.
func (l *Learner) Timesteps() int { return l.agg.Timesteps() }

// Done reports whether the final observation has been processed.
func (l *Learner) Done() bool { return l.done }

// #endregion queries
