package domain

import "fmt"

// #region variants
type variant struct {
	id              string
	hasFeatureBlock bool
	// label picks the scalar label from the step's reward and the
	// model-estimated action component.
	label func(reward, estimated float64) float64
}

var variants = map[Kind]variant{
	AircraftField: {
		id:              "AircraftField",
		hasFeatureBlock: true,
		label:           func(reward, _ float64) float64 { return reward },
	},
	SimpleCar: {
		id:              "SimpleCar",
		hasFeatureBlock: false,
		label:           func(_, estimated float64) float64 { return estimated },
	},
}

// ParseKind maps a domain identifier to its Kind.
func ParseKind(id string) (Kind, error) {
	for k, v := range variants {
		if v.id == id {
			return k, nil
		}
	}
	return 0, &UnsupportedDomainError{ID: id}
}

// #endregion variants

// #region schema
// Schema is the per-step record layout for one run.
type Schema struct {
	Kind         Kind
	StateDim     int
	FeatureCount int
	Fields       []Field
}

// ResolveSchema builds the record layout for a domain identifier.
func ResolveSchema(id string, stateDim, featureCount int) (Schema, error) {
	kind, err := ParseKind(id)
	if err != nil {
		return Schema{}, err
	}
	return SchemaFor(kind, stateDim, featureCount)
}

// SchemaFor builds the record layout for an already parsed Kind.
func SchemaFor(kind Kind, stateDim, featureCount int) (Schema, error) {
	v, ok := variants[kind]
	if !ok {
		return Schema{}, &UnsupportedDomainError{ID: kind.String()}
	}
	if stateDim <= 0 {
		return Schema{}, fmt.Errorf("state dimensionality must be positive, got %d", stateDim)
	}
	if featureCount < 0 {
		return Schema{}, fmt.Errorf("feature count must be non-negative, got %d", featureCount)
	}

	s := Schema{Kind: kind, StateDim: stateDim, FeatureCount: featureCount}
	offset := 0
	add := func(name FieldName, width int) {
		s.Fields = append(s.Fields, Field{Name: name, Offset: offset, Width: width})
		offset += width
	}
	add(FieldStateHash, 1)
	add(FieldState, stateDim)
	if v.hasFeatureBlock {
		add(FieldFeatureBlock, featureCount)
	}
	add(FieldScalarLabel, 1)
	add(FieldReward, 1)
	return s, nil
}

// Widen re-resolves the schema for a new feature count. A schema without a
// feature block is returned with only FeatureCount updated.
func (s Schema) Widen(featureCount int) (Schema, error) {
	return SchemaFor(s.Kind, s.StateDim, featureCount)
}

// HasFeatureBlock reports whether records carry per-feature flags.
func (s Schema) HasFeatureBlock() bool {
	return variants[s.Kind].hasFeatureBlock
}

// Width is the flattened record width.
func (s Schema) Width() int {
	if len(s.Fields) == 0 {
		return 0
	}
	last := s.Fields[len(s.Fields)-1]
	return last.Offset + last.Width
}

// Field looks up a field by name.
func (s Schema) Field(name FieldName) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ScalarLabel returns the label source for this schema's domain.
func (s Schema) ScalarLabel(reward, estimated float64) float64 {
	return variants[s.Kind].label(reward, estimated)
}

// #endregion schema
