package halting

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// #region policy
// Policy decides after each outer iteration whether feature discovery goes on.
type Policy struct {
	config Config
	logger *zap.Logger

	state           State
	iterations      int
	minObjective    float64
	prevSSE         float64
	prevFeatures    int
	prevAssignments []int
}

// NewPolicy starts a policy from the representation's current feature count.
func NewPolicy(config Config, initialFeatures int, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		config:       config,
		logger:       logger,
		state:        StateIterating,
		minObjective: math.Inf(1),
		prevSSE:      math.Inf(1),
		prevFeatures: initialFeatures,
	}
}

// State is the current state.
func (p *Policy) State() State { return p.state }

// Iterations counts the iterations stepped so far.
func (p *Policy) Iterations() int { return p.iterations }

// Step applies the transition rules to one iteration. Once terminal, every
// further step is discarded.
func (p *Policy) Step(it Iteration) Decision {
	if p.state.Terminal() {
		return Decision{State: p.state, Reason: "policy already " + string(p.state)}
	}
	p.iterations++

	d := Decision{State: StateIterating, Keep: true}

	// Rule 1: objective regression is only a warning.
	if it.Objective-p.config.ObjectivePenalty > p.minObjective {
		d.ObjectiveRegressed = true
		p.logger.Warn("[HALT] objective regressed",
			zap.Int("iteration", p.iterations),
			zap.Float64("objective", it.Objective),
			zap.Float64("min_objective", p.minObjective))
	}

	// Rule 2: not enough error reduction, discard and stop.
	if p.prevSSE-it.SumSquaredError < p.config.Eta {
		p.state = StateHaltedEta
		return Decision{
			State:              p.state,
			ObjectiveRegressed: d.ObjectiveRegressed,
			Reason: fmt.Sprintf("sse reduction %.6f below eta %.6f",
				p.prevSSE-it.SumSquaredError, p.config.Eta),
		}
	}

	featureAdded := it.FeatureCount > p.prevFeatures
	changed := p.prevAssignments != nil && !sameAssignments(p.prevAssignments, it.Assignments)

	p.minObjective = math.Min(p.minObjective, it.Objective)
	p.prevSSE = it.SumSquaredError
	p.prevFeatures = it.FeatureCount
	p.prevAssignments = append([]int(nil), it.Assignments...)

	// Rule 3: nothing moved.
	switch {
	case !featureAdded && !changed && !p.config.ForceContinue:
		p.state = StateConverged
		d.Reason = "no feature added and assignments unchanged"
	case p.config.MaxIterations > 0 && p.iterations >= p.config.MaxIterations:
		p.state = StateHaltedNoImprovement
		d.Reason = fmt.Sprintf("iteration cap %d reached", p.config.MaxIterations)
	default:
		d.Reason = fmt.Sprintf("feature_added=%v assignments_changed=%v", featureAdded, changed)
	}
	d.State = p.state

	p.logger.Debug("[HALT] step",
		zap.Int("iteration", p.iterations),
		zap.String("state", string(p.state)),
		zap.String("reason", d.Reason))
	return d
}

// Stall ends the loop when the engine produced nothing to evaluate.
func (p *Policy) Stall(reason string) Decision {
	if !p.state.Terminal() {
		p.state = StateHaltedNoImprovement
	}
	return Decision{State: p.state, Reason: reason}
}

// #endregion policy

// #region helpers
func sameAssignments(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion helpers
