package fl

import (
	"fmt"
	"math"
	"sort"
)

// Names returns the parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	out := make(ParameterSet, len(p))
	for name, values := range p {
		out[name] = append([]float64(nil), values...)
	}

	return out
}

// Equal reports bit-for-bit equality, so NaN payloads and signed zeros are distinguished.
func (p ParameterSet) Equal(other ParameterSet) bool {
	if len(p) != len(other) {
		return false
	}
	for name, values := range p {
		ov, ok := other[name]
		if !ok || len(ov) != len(values) {
			return false
		}
		for i := range values {
			if math.Float64bits(values[i]) != math.Float64bits(ov[i]) {
				return false
			}
		}
	}

	return true
}

func (p ParameterSet) SameShape(other ParameterSet) bool {
	if len(p) != len(other) {
		return false
	}
	for name, values := range p {
		ov, ok := other[name]
		if !ok || len(ov) != len(values) {
			return false
		}
	}

	return true
}

func (p ParameterSet) Validate() error {
	if len(p) == 0 {
		return ErrEmptyParameter
	}
	for name, values := range p {
		if name == "" {
			return fmt.Errorf("%w: unnamed parameter", ErrShapeMismatch)
		}
		if len(values) == 0 {
			return fmt.Errorf("%w: parameter %q has no values", ErrShapeMismatch, name)
		}
	}

	return nil
}

// Add returns p + other.
func (p ParameterSet) Add(other ParameterSet) (ParameterSet, error) {
	if !p.SameShape(other) {
		return nil, ErrShapeMismatch
	}
	out := make(ParameterSet, len(p))
	for name, values := range p {
		ov := other[name]
		sum := make([]float64, len(values))
		for i := range values {
			sum[i] = values[i] + ov[i]
		}
		out[name] = sum
	}

	return out, nil
}

// Sub returns p - other.
func (p ParameterSet) Sub(other ParameterSet) (ParameterSet, error) {
	if !p.SameShape(other) {
		return nil, ErrShapeMismatch
	}
	out := make(ParameterSet, len(p))
	for name, values := range p {
		ov := other[name]
		diff := make([]float64, len(values))
		for i := range values {
			diff[i] = values[i] - ov[i]
		}
		out[name] = diff
	}

	return out, nil
}

func (p ParameterSet) Scale(factor float64) ParameterSet {
	out := make(ParameterSet, len(p))
	for name, values := range p {
		scaled := make([]float64, len(values))
		for i := range values {
			scaled[i] = values[i] * factor
		}
		out[name] = scaled
	}

	return out
}

// Zeros returns a parameter set of the same shape filled with zeros.
func (p ParameterSet) Zeros() ParameterSet {
	out := make(ParameterSet, len(p))
	for name, values := range p {
		out[name] = make([]float64, len(values))
	}

	return out
}

// IsZero reports whether every value is exactly zero.
func (p ParameterSet) IsZero() bool {
	for _, values := range p {
		for _, v := range values {
			if v != 0 {
				return false
			}
		}
	}

	return true
}
