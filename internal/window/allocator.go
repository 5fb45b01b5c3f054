package window

import (
	"fmt"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/domain"
)

// #region allocator
// Allocator sizes windows from the precomputed trajectory-length table and
// hands out observation indices in order.
type Allocator struct {
	lengths        []int
	perObservation int
	schema         domain.Schema
	next           int
}

// NewAllocator validates the length table against the observation grouping.
func NewAllocator(lengths []int, perObservation int, schema domain.Schema) (*Allocator, error) {
	if len(lengths) == 0 {
		return nil, fmt.Errorf("trajectory length table is empty")
	}
	if perObservation <= 0 {
		return nil, fmt.Errorf("trajectories per observation must be positive, got %d", perObservation)
	}
	if len(lengths)%perObservation != 0 {
		return nil, fmt.Errorf("%d trajectories do not split into observations of %d", len(lengths), perObservation)
	}
	for i, n := range lengths {
		if n <= 0 {
			return nil, fmt.Errorf("trajectory %d has non-positive length %d", i, n)
		}
	}
	table := make([]int, len(lengths))
	copy(table, lengths)
	return &Allocator{lengths: table, perObservation: perObservation, schema: schema}, nil
}

// Observations is the total number of observations in the table.
func (a *Allocator) Observations() int {
	return len(a.lengths) / a.perObservation
}

// Next is the index the next Open call must use.
func (a *Allocator) Next() int { return a.next }

// Schema is the layout used for newly opened windows.
func (a *Allocator) Schema() domain.Schema { return a.schema }

// SetSchema swaps the layout for windows opened from now on.
func (a *Allocator) SetSchema(s domain.Schema) { a.schema = s }

// Capacity sums the transition counts of the trajectories in observation i.
func (a *Allocator) Capacity(i int) (int, error) {
	if i < 0 || i >= a.Observations() {
		return 0, fmt.Errorf("observation %d outside length table (%d observations)", i, a.Observations())
	}
	total := 0
	for _, n := range a.lengths[i*a.perObservation : (i+1)*a.perObservation] {
		total += n
	}
	return total, nil
}

// Open allocates the window for observation i and advances the counter.
func (a *Allocator) Open(i int) (*Window, error) {
	if i != a.next {
		return nil, fmt.Errorf("observation %d opened out of order, expected %d", i, a.next)
	}
	capacity, err := a.Capacity(i)
	if err != nil {
		return nil, err
	}
	a.next++
	return newWindow(i, a.schema, capacity), nil
}

// #endregion allocator
