package window

import "fmt"

// #region batch
// Batch holds the windows accumulated since the last reclustering event.
// Steps only advance through Record, so the sum of window lengths always
// equals Steps.
type Batch struct {
	windows []*Window
	steps   int
}

// Add appends a freshly opened window; it becomes the write target.
func (b *Batch) Add(w *Window) {
	b.windows = append(b.windows, w)
}

// Record writes into the open window and counts the step.
func (b *Batch) Record(step int, rec Record) error {
	w := b.Current()
	if w == nil {
		return fmt.Errorf("no open window")
	}
	if err := w.Write(step, rec); err != nil {
		return err
	}
	b.steps++
	return nil
}

// Current is the most recently added window, or nil.
func (b *Batch) Current() *Window {
	if len(b.windows) == 0 {
		return nil
	}
	return b.windows[len(b.windows)-1]
}

// Windows returns the batch's windows in observation order.
func (b *Batch) Windows() []*Window { return b.windows }

// Len is the number of windows.
func (b *Batch) Len() int { return len(b.windows) }

// Steps is the number of transitions recorded in this batch.
func (b *Batch) Steps() int { return b.steps }

// Conserved checks the batch-length invariant.
func (b *Batch) Conserved() bool {
	sum := 0
	for _, w := range b.windows {
		sum += w.Len()
	}
	return sum == b.steps
}

// Reset drops all windows and the step counter.
func (b *Batch) Reset() {
	b.windows = nil
	b.steps = 0
}

// #endregion batch
