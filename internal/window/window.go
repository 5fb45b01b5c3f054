package window

import (
	"fmt"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
)

// #region window
// Window is the pre-sized transition buffer of one observation.
// Records are written in step order; the backing slice never grows.
type Window struct {
	observation int
	schema      domain.Schema
	records     []Record
	filled      int
	closed      bool
}

func newWindow(observation int, schema domain.Schema, capacity int) *Window {
	return &Window{
		observation: observation,
		schema:      schema,
		records:     make([]Record, capacity),
	}
}

// Observation is the absolute observation index of this window.
func (w *Window) Observation() int { return w.observation }

// Schema is the layout the window was allocated with.
func (w *Window) Schema() domain.Schema { return w.schema }

// Cap is the number of transitions allocated.
func (w *Window) Cap() int { return len(w.records) }

// Len is the number of transitions written so far.
func (w *Window) Len() int { return w.filled }

// Closed reports whether the observation has ended.
func (w *Window) Closed() bool { return w.closed }

// Close makes the window read-only.
func (w *Window) Close() { w.closed = true }

// Write stores rec at step. Steps must arrive in order starting at 0.
func (w *Window) Write(step int, rec Record) error {
	if w.closed {
		return fmt.Errorf("observation %d: %w", w.observation, ErrWindowClosed)
	}
	if step >= len(w.records) {
		return &OverflowError{Observation: w.observation, Step: step, Capacity: len(w.records)}
	}
	if step != w.filled {
		return fmt.Errorf("observation %d: step %d out of order, expected %d", w.observation, step, w.filled)
	}
	if len(rec.State) != w.schema.StateDim {
		return fmt.Errorf("observation %d: state has %d dims, schema wants %d", w.observation, len(rec.State), w.schema.StateDim)
	}
	if w.schema.HasFeatureBlock() {
		if len(rec.Features) != w.schema.FeatureCount {
			return fmt.Errorf("observation %d: feature block has %d flags, schema wants %d", w.observation, len(rec.Features), w.schema.FeatureCount)
		}
	} else {
		rec.Features = nil
	}
	w.records[step] = rec
	w.filled++
	return nil
}

// Transitions returns the written records. The slice aliases the window and
// must not be modified.
func (w *Window) Transitions() []Record {
	return w.records[:w.filled]
}

// #endregion window
