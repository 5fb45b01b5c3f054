package learner

import (
	"errors"
	"fmt"
)

// #region errors
// ErrRunFinished is returned by calls made after the final observation.
var ErrRunFinished = errors.New("run finished")

// ErrRunAborted is returned by calls made after a batch failed to persist.
var ErrRunAborted = errors.New("run aborted")

// ConfigError reports a configuration that cannot start a run.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PrematureEndingError reports a trajectory that ended before recording the
// transitions its length-table entry promised. Repacking partial windows is
// not supported; the run cannot go on from this point.
type PrematureEndingError struct {
	Observation int
	Trajectory  int
	Filled      int
	Capacity    int
}

func (e *PrematureEndingError) Error() string {
	return fmt.Sprintf("observation %d: trajectory %d ended with %d of %d transitions",
		e.Observation, e.Trajectory, e.Filled, e.Capacity)
}

// #endregion errors
