package window

import (
	"errors"
	"fmt"
)

// #region record
// Record is one transition laid out per the run's domain.Schema.
type Record struct {
	StateHash   int64     `json:"state_hash"`
	State       []float64 `json:"state"`
	Features    []bool    `json:"features,omitempty"` // nil when the schema has no feature block
	ScalarLabel float64   `json:"scalar_label"`
	Reward      float64   `json:"reward"`
}

// #endregion record

// #region errors
var (
	// ErrWindowFull marks a write past the capacity allocated for an observation.
	ErrWindowFull = errors.New("window full")
	// ErrWindowClosed marks a write into a window whose observation has ended.
	ErrWindowClosed = errors.New("window closed")
)

// OverflowError reports a step that does not fit its window. It means the
// trajectory-length table underestimated the observation.
type OverflowError struct {
	Observation int
	Step        int
	Capacity    int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("observation %d: step %d exceeds window capacity %d", e.Observation, e.Step, e.Capacity)
}

func (e *OverflowError) Is(target error) bool {
	return target == ErrWindowFull
}

// #endregion errors
