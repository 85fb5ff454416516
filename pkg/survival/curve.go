// Package survival reads quantiles off proportional-hazards survival curves.
//
// A Curve holds a baseline cumulative hazard H(x) on an increasing grid. For
// an observation with partial hazard p the survival function is
// S(x) = exp(-H(x)·p), and the quantiles at the configured Levels are found by
// linear interpolation of x against S.
package survival

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidCurve is returned for malformed baseline curves.
	ErrInvalidCurve = errors.New("invalid baseline curve")

	// ErrInvalidPartialHazard is returned for NaN, infinite or negative
	// partial hazards.
	ErrInvalidPartialHazard = errors.New("invalid partial hazard")
)

// Curve is a baseline cumulative hazard sampled on a strictly increasing
// grid X. H must be non-negative and non-decreasing along X.
type Curve struct {
	X []float64 `json:"x"`
	H []float64 `json:"h"`
}

// Len returns the number of grid points.
func (c Curve) Len() int { return len(c.X) }

// Validate reports whether c can be interpolated.
func (c Curve) Validate() error {
	if len(c.X) != len(c.H) {
		return fmt.Errorf("%w: %d grid points but %d hazard values", ErrInvalidCurve, len(c.X), len(c.H))
	}
	if len(c.X) < 2 {
		return fmt.Errorf("%w: need at least 2 grid points, got %d", ErrInvalidCurve, len(c.X))
	}
	for i := range c.X {
		if math.IsNaN(c.X[i]) || math.IsInf(c.X[i], 0) || math.IsNaN(c.H[i]) || math.IsInf(c.H[i], 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrInvalidCurve, i)
		}
		if c.H[i] < 0 {
			return fmt.Errorf("%w: negative hazard %v at index %d", ErrInvalidCurve, c.H[i], i)
		}
		if i == 0 {
			continue
		}
		if c.X[i] <= c.X[i-1] {
			return fmt.Errorf("%w: grid not strictly increasing at index %d", ErrInvalidCurve, i)
		}
		if c.H[i] < c.H[i-1] {
			return fmt.Errorf("%w: hazard decreases at index %d (%v < %v)", ErrInvalidCurve, i, c.H[i], c.H[i-1])
		}
	}
	return nil
}

// Survival evaluates S(x) = exp(-H(x)·p) on the grid.
func (c Curve) Survival(p float64) []float64 {
	s := make([]float64, len(c.H))
	for i, h := range c.H {
		s[i] = math.Exp(-h * p)
	}
	return s
}

// Clone returns a deep copy of c.
func (c Curve) Clone() Curve {
	return Curve{
		X: append([]float64(nil), c.X...),
		H: append([]float64(nil), c.H...),
	}
}
