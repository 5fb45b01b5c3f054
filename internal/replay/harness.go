package replay

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/halting"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/learner"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/stats"
)

// #region types

// Options override the collaborators of a replay run. The zero value replays
// against the fixture's scripted engine without persistence.
type Options struct {
	Engine engine.Engine
	// Config replaces the fixture's learner parameters. The trajectory
	// lengths always come from the fixture.
	Config *learner.Config
	Logger *zap.Logger
	Store  *stats.Store
	RunID  string
}

// Result captures everything a replay produced.
type Result struct {
	Outcomes []*learner.ReclusterOutcome
	// ReclusterAfter holds the observation count at each reclustering.
	ReclusterAfter []int
	Records        []stats.OuterIterationRecord
	Labels         []int
	Counters       learner.Counters
	// EngineCalls is only filled when the fixture's scripted engine ran.
	EngineCalls []engine.RunCall
	// Learner stays queryable after the run.
	Learner *learner.Learner
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Observations    int
	Reclusters      int
	OuterIterations int
	LifetimeSteps   int
	FinalMSE        float64
	FinalFeatures   int
	HaltState       halting.State
}

// #endregion types

// #region replay

// Replay feeds every fixture trajectory through a learner, one transition at
// a time, ending each trajectory the way the fixture says.
func Replay(ctx context.Context, f *Fixture, opts Options) (*Result, error) {
	lengths := f.TrajectoryLengths()
	cfg := f.Config.ToLearnerConfig(lengths)
	if opts.Config != nil {
		cfg = *opts.Config
		cfg.TrajectoryLengths = lengths
	}

	eng := opts.Engine
	var scripted *engine.Scripted
	if eng == nil {
		scripted = &engine.Scripted{}
		for i := range f.EngineReplies {
			scripted.Replies = append(scripted.Replies, f.EngineReplies[i].ToRunStats())
		}
		eng = scripted
	}

	dom := NewDomain(f.Config.TruthWeights)
	l, err := learner.New(cfg, learner.Deps{
		Engine:         eng,
		Domain:         dom,
		Representation: NewHashRepresentation(f.Config.InitialFeatures),
		Policies:       f.Policies(),
		Logger:         opts.Logger,
		Store:          opts.Store,
		RunID:          opts.RunID,
	})
	if err != nil {
		return nil, err
	}

	perObs := cfg.TrajectoriesPerObservation
	if perObs == 0 {
		perObs = 1
	}
	res := &Result{Learner: l}
	defer func() {
		res.Records = l.Records()
		res.Labels = l.Labels()
		res.Counters = l.Counters()
		if scripted != nil {
			res.EngineCalls = scripted.Calls
		}
	}()

	for i := range f.Trajectories {
		traj := &f.Trajectories[i]
		dom.SetLabel(traj.HiddenLabel)
		for s := range traj.Steps {
			if err := l.ProcessTransition(traj.Steps[s].ToTransition()); err != nil {
				return res, err
			}
		}
		out, err := l.EndObservation(ctx, i, traj.Premature)
		if err != nil {
			return res, fmt.Errorf("trajectory %d: %w", i, err)
		}
		if out != nil {
			res.Outcomes = append(res.Outcomes, out)
			res.ReclusterAfter = append(res.ReclusterAfter, (i+1)/perObs)
		}
	}
	return res, nil
}

// CheckSchedule compares the reclustering schedule against the expected one.
func CheckSchedule(res *Result, expected []int) error {
	if slices.Equal(res.ReclusterAfter, expected) {
		return nil
	}
	return fmt.Errorf("reclustered after %v, expected %v", res.ReclusterAfter, expected)
}

// Summarize computes aggregate stats from a replay result.
func Summarize(res *Result) Summary {
	s := Summary{
		Observations:    len(res.Labels),
		Reclusters:      len(res.Outcomes),
		OuterIterations: len(res.Records),
		LifetimeSteps:   res.Counters.Lifetime,
	}
	if n := len(res.Records); n > 0 {
		s.FinalMSE = res.Records[n-1].MeanSquaredError
		s.FinalFeatures = res.Records[n-1].FeatureCount
	}
	for _, out := range res.Outcomes {
		if out.HaltState != "" {
			s.HaltState = out.HaltState
		}
	}
	return s
}

// #endregion replay
