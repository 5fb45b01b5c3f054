package replay

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// #region fixture-domain

// Domain evaluates a linear ground truth per hidden label. The label reported
// at the end of an observation is whatever SetLabel last stored.
type Domain struct {
	weights [][]float64
	label   int
}

// NewDomain creates a domain from per-label weight vectors.
func NewDomain(weights [][]float64) *Domain {
	return &Domain{weights: weights}
}

// SetLabel sets the hidden label of the running trajectory.
func (d *Domain) SetLabel(label int) { d.label = label }

// HiddenStateLabel returns the current hidden label.
func (d *Domain) HiddenStateLabel() int { return d.label }

// GroundTruth dots the label's weights with state. Unknown labels score 0.
func (d *Domain) GroundTruth(state []float64, hiddenLabel int) float64 {
	if hiddenLabel < 0 || hiddenLabel >= len(d.weights) {
		return 0
	}
	w := d.weights[hiddenLabel]
	var sum float64
	for i := 0; i < len(w) && i < len(state); i++ {
		sum += w[i] * state[i]
	}
	return sum
}

// #endregion fixture-domain

// #region representation

// HashRepresentation hashes states with xxhash and derives binary features
// from the signs of the state coordinates, cycling through them as the
// feature count grows.
type HashRepresentation struct {
	features int
}

// NewHashRepresentation starts with the given number of features.
func NewHashRepresentation(features int) *HashRepresentation {
	return &HashRepresentation{features: features}
}

// FeatureCount is the current number of features.
func (r *HashRepresentation) FeatureCount() int { return r.features }

// HashState returns a stable hash of the state's float64 bit patterns.
func (r *HashRepresentation) HashState(state []float64) int64 {
	buf := make([]byte, 8*len(state))
	for i, v := range state {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return int64(xxhash.Sum64(buf))
}

// Features activates feature i when coordinate i mod dim is non-negative.
func (r *HashRepresentation) Features(state []float64) []bool {
	out := make([]bool, r.features)
	if len(state) == 0 {
		return out
	}
	for i := range out {
		out[i] = state[i%len(state)] >= 0
	}
	return out
}

// Expand grows the feature set to featureCount. It never shrinks.
func (r *HashRepresentation) Expand(featureCount int) {
	if featureCount > r.features {
		r.features = featureCount
	}
}

type namedPolicy string

func (p namedPolicy) ID() string { return string(p) }

// #endregion representation
