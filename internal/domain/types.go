package domain

import "fmt"

// #region kind
// Kind identifies a control domain family. The set is closed: every Kind has a
// schema layout and a scalar label source registered in variants.
type Kind int

const (
	AircraftField Kind = iota + 1
	SimpleCar
)

// String returns the domain identifier used in configs and fixtures.
func (k Kind) String() string {
	if v, ok := variants[k]; ok {
		return v.id
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// #endregion kind

// #region errors
// UnsupportedDomainError is returned for any domain identifier without a variant.
type UnsupportedDomainError struct {
	ID string
}

func (e *UnsupportedDomainError) Error() string {
	return fmt.Sprintf("unsupported domain %q", e.ID)
}

// #endregion errors

// #region field
// FieldName names one column group of a transition record.
type FieldName string

const (
	FieldStateHash    FieldName = "state_hash"
	FieldState        FieldName = "state"
	FieldFeatureBlock FieldName = "feature_block"
	FieldScalarLabel  FieldName = "scalar_label"
	FieldReward       FieldName = "reward"
)

// Field is a contiguous range [Offset, Offset+Width) of the flattened record.
type Field struct {
	Name   FieldName `json:"name"`
	Offset int       `json:"offset"`
	Width  int       `json:"width"`
}

// #endregion field

// #region collaborators
// Domain is the simulated environment as seen by the learner.
type Domain interface {
	// HiddenStateLabel returns the latent type of the current trajectory.
	HiddenStateLabel() int
	// GroundTruth evaluates the domain's true function at state for a hidden type.
	GroundTruth(state []float64, hiddenLabel int) float64
}

// Representation is the current feature representation over states.
type Representation interface {
	FeatureCount() int
	HashState(state []float64) int64
	// Features returns the active feature flags for state; len == FeatureCount().
	Features(state []float64) []bool
}

// Expander is implemented by representations that grow when the engine
// discovers new features.
type Expander interface {
	Expand(featureCount int)
}

// Policy supplies actions for one trajectory. Only its identity is used here.
type Policy interface {
	ID() string
}

// #endregion collaborators
