package halting

// #region state
// State is the halting policy's position in its state machine.
type State string

const (
	StateIterating           State = "ITERATING"
	StateConverged           State = "CONVERGED"
	StateHaltedNoImprovement State = "HALTED_NO_IMPROVEMENT"
	StateHaltedEta           State = "HALTED_ETA_THRESHOLD"
)

// Terminal reports whether the loop must stop.
func (s State) Terminal() bool {
	return s != StateIterating
}

// #endregion state

// #region config
// Config holds thresholds for the halting decision.
type Config struct {
	Eta              float64 // minimum sum-squared-error reduction per iteration
	ObjectivePenalty float64 // subtracted from the objective before the regression check
	ForceContinue    bool    // ignore convergence, iterate until eta or the cap stops the loop
	MaxIterations    int
}

// DefaultConfig returns the thresholds used by the legacy single-batch loop.
func DefaultConfig() Config {
	return Config{
		Eta:              0.01,
		ObjectivePenalty: 0,
		ForceContinue:    false,
		MaxIterations:    50,
	}
}

// #endregion config

// #region iteration
// Iteration is one engine outer iteration as seen by the policy.
type Iteration struct {
	Objective       float64
	SumSquaredError float64
	FeatureCount    int
	Assignments     []int // cluster per observation
}

// Decision is the policy output for one iteration.
type Decision struct {
	State              State
	Keep               bool // append this iteration's statistics
	ObjectiveRegressed bool
	Reason             string
}

// #endregion iteration
