package learner

import (
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/halting"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/stats"

	"go.uber.org/zap"
)

// #region config
// Config holds the run parameters.
type Config struct {
	Domain                     string
	StateDim                   int
	TrajectoryLengths          []int // transitions per trajectory, in run order
	TrajectoriesPerObservation int
	// BatchSize is the number of observations per reclustering. Zero means the
	// whole dataset, which runs the single-batch halting loop.
	BatchSize        int
	RestartCount     int
	ExpansionCount   int
	MaxIterations    int
	Epsilon          float64 // halting eta
	ObjectivePenalty float64
	ForceContinue    bool
}

// #endregion config

// #region deps
// Deps are the collaborators a Learner drives.
type Deps struct {
	Engine         engine.Engine
	Domain         domain.Domain
	Representation domain.Representation
	Policies       []domain.Policy // one per trajectory
	Logger         *zap.Logger

	// Store and RunID enable persistence of records and recluster decisions.
	Store *stats.Store
	RunID string
}

// #endregion deps

// #region transition
// Transition is one environment step.
type Transition struct {
	State  []float64
	Reward float64
	// EstimatedAction is the model-estimated action component, the scalar
	// label source of domains that do not label with reward.
	EstimatedAction float64
}

// #endregion transition

// #region outcome
// ReclusterOutcome reports one reclustering event.
type ReclusterOutcome struct {
	BatchIndex   int
	Trigger      string
	Observations []int // absolute indices of the batch's observations
	Steps        int
	Records      []stats.OuterIterationRecord
	// HaltState is set when the single-batch halting loop ran.
	HaltState  halting.State
	HaltReason string
	Final      bool
}

// Counters exposes the three step counters.
type Counters struct {
	Episode  int // reset per trajectory
	Batch    int // reset per reclustering
	Lifetime int // never reset
}

// #endregion outcome
