package schema

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnknownVariant is returned when no built-in schema exists for a variant name.
	ErrUnknownVariant = errors.New("unknown pipeline variant")
	// ErrUnknownField is returned when a named value does not belong to the schema.
	ErrUnknownField = errors.New("unknown feature field")
	// ErrOutOfRange is returned when a value falls outside the field's declared input bounds.
	ErrOutOfRange = errors.New("feature value out of range")
	// ErrDuplicateField is returned when two named values resolve to the same field.
	ErrDuplicateField = errors.New("duplicate feature field")
)

// Variant names the two independent pipelines.
const (
	VariantStage = "stage"
	VariantRisk  = "risk"
)

// Field describes one position of the feature vector as the form collects it.
type Field struct {
	Name    string    `json:"name"`
	Aliases []string  `json:"aliases,omitempty"` // accepted as input keys
	Label   string    `json:"label"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max,omitempty"` // 0 means unbounded
	Default float64   `json:"default"`
	Integer bool      `json:"integer,omitempty"`
	Choices []float64 `json:"choices,omitempty"`

	// NormalLow/NormalHigh is the documented reference range shown next to the form.
	NormalLow  float64 `json:"normal_low,omitempty"`
	NormalHigh float64 `json:"normal_high,omitempty"`
}

// Schema is the fixed-order feature contract a deployed model was trained on.
type Schema struct {
	Variant string  `json:"variant"`
	Title   string  `json:"title"`
	Fields  []Field `json:"fields"`
}

// Len returns the expected feature-vector length.
func (s *Schema) Len() int {
	return len(s.Fields)
}

// Names returns field names in vector order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Field returns the named field and its vector position. Names match
// case-insensitively against the field name and its aliases.
func (s *Schema) Field(name string) (Field, int, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, f := range s.Fields {
		if f.Name == key {
			return f, i, true
		}
		for _, a := range f.Aliases {
			if a == key {
				return f, i, true
			}
		}
	}
	return Field{}, -1, false
}

// Defaults returns the vector of form default values.
func (s *Schema) Defaults() []float64 {
	out := make([]float64, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Default
	}
	return out
}

// Midpoints returns the midpoint of each documented normal range. Fields
// without a documented range (and categorical fields) use their default.
func (s *Schema) Midpoints() []float64 {
	out := make([]float64, len(s.Fields))
	for i, f := range s.Fields {
		if len(f.Choices) > 0 || f.NormalHigh <= f.NormalLow {
			out[i] = f.Default
			continue
		}
		out[i] = (f.NormalLow + f.NormalHigh) / 2
	}
	return out
}

// Assemble builds the feature vector in schema order from named values.
// Missing fields take their default. Unknown names and two names for the
// same field are rejected.
func (s *Schema) Assemble(values map[string]float64) ([]float64, error) {
	out := s.Defaults()
	seen := make(map[int]string, len(values))
	for name, v := range values {
		f, idx, ok := s.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		if prev, dup := seen[idx]; dup {
			return nil, fmt.Errorf("%w: %q and %q both set %s", ErrDuplicateField, prev, name, f.Name)
		}
		seen[idx] = name
		out[idx] = v
	}
	return out, nil
}

// CheckRanges enforces the declared input bounds, mirroring what the
// form's numeric widgets allow.
func (s *Schema) CheckRanges(v []float64) error {
	if len(v) != len(s.Fields) {
		return fmt.Errorf("%w: expected %d values, got %d", ErrOutOfRange, len(s.Fields), len(v))
	}
	for i, f := range s.Fields {
		x := v[i]
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrOutOfRange, f.Name)
		}
		if len(f.Choices) > 0 {
			if !containsFloat(f.Choices, x) {
				return fmt.Errorf("%w: %s must be one of %v", ErrOutOfRange, f.Name, f.Choices)
			}
			continue
		}
		if x < f.Min {
			return fmt.Errorf("%w: %s below minimum %g", ErrOutOfRange, f.Name, f.Min)
		}
		if f.Max != 0 && x > f.Max {
			return fmt.Errorf("%w: %s above maximum %g", ErrOutOfRange, f.Name, f.Max)
		}
		if f.Integer && x != math.Trunc(x) {
			return fmt.Errorf("%w: %s must be a whole number", ErrOutOfRange, f.Name)
		}
	}
	return nil
}

func containsFloat(set []float64, x float64) bool {
	for _, c := range set {
		if c == x {
			return true
		}
	}
	return false
}

// Lookup returns the built-in schema for a variant.
func Lookup(variant string) (*Schema, error) {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case VariantStage:
		return Stage(), nil
	case VariantRisk:
		return Risk(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

// Variants lists the built-in variant names.
func Variants() []string {
	return []string{VariantStage, VariantRisk}
}
