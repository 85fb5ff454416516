package survival

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Saturation flags reported alongside a prediction. They name where the
// median falls on the duration grid; Limit maps them to the response axis.
const (
	// FlagBelowGrid marks a survival curve already below the median level
	// at the first grid point: the median lies before the grid starts.
	FlagBelowGrid = -1
	// FlagNone marks a median bracketed by the grid.
	FlagNone = 0
	// FlagAboveGrid marks a survival curve still above the median level at
	// the last grid point: the median lies past the grid end.
	FlagAboveGrid = 1
)

// Limit kinds returned by Limit.
const (
	LimitNone  = ""
	LimitUpper = "upper"
	LimitLower = "lower"
)

// Limit reports whether a flagged median is an upper or a lower limit on
// the response. The median is pinned at the grid end it overshoots; on a
// reflected axis (response = 1 - duration) a duration past the grid end is
// a response below the smallest grid value, so the reported value is an
// upper limit.
func Limit(flag int, reflected bool) string {
	switch {
	case flag == FlagAboveGrid && reflected, flag == FlagBelowGrid && !reflected:
		return LimitUpper
	case flag == FlagBelowGrid && reflected, flag == FlagAboveGrid && !reflected:
		return LimitLower
	default:
		return LimitNone
	}
}

// Quantiles are the values read off one survival curve at the three levels.
type Quantiles struct {
	Lower  float64
	Median float64
	Upper  float64
	Flag   int

	// Degenerate is set when the survival curve is flat, so no crossing
	// exists. Both outer quantiles are then forced to the bounds.
	Degenerate bool
}

// Prediction is the reporting form of Quantiles: the median plus the
// magnitudes of its distance to the outer quantiles.
type Prediction struct {
	LowerErr   float64 `json:"lower_err"`
	Median     float64 `json:"median"`
	UpperErr   float64 `json:"upper_err"`
	Flag       int     `json:"flag"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// Prediction converts q to its reporting form.
func (q Quantiles) Prediction() Prediction {
	return Prediction{
		LowerErr:   math.Abs(q.Median - q.Lower),
		Median:     q.Median,
		UpperErr:   math.Abs(q.Upper - q.Median),
		Flag:       q.Flag,
		Degenerate: q.Degenerate,
	}
}

// Interpolator reads quantiles off baseline curves scaled by a partial
// hazard. The zero value is not usable; use NewInterpolator.
type Interpolator struct {
	Levels Levels
	Bounds Bounds

	// Reflect reports quantiles on the axis 1 - x. Models whose durations
	// are the reflection of a response use it to map results back.
	Reflect bool
}

// NewInterpolator returns an Interpolator with DefaultLevels and
// DefaultBounds.
func NewInterpolator(reflect bool) *Interpolator {
	return &Interpolator{
		Levels:  DefaultLevels,
		Bounds:  DefaultBounds,
		Reflect: reflect,
	}
}

// Interpolate computes the quantiles of one observation with partial hazard p.
//
// Algorithm:
//  1. S = exp(-H·p) over the grid
//  2. Reverse the grid so S is non-decreasing
//  3. Interpolate x linearly at each level against (S, x), clamping to the
//     grid ends outside the range of S
//  4. Apply the saturation rules:
//     max(S) < Median → flag -1, max(S) < Lower → lower = Bounds.Low,
//     min(S) > Median → flag +1, min(S) > Upper → upper = Bounds.High
func (ip *Interpolator) Interpolate(c Curve, p float64) (Quantiles, error) {
	if err := c.Validate(); err != nil {
		return Quantiles{}, err
	}
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return Quantiles{}, fmt.Errorf("%w: %v", ErrInvalidPartialHazard, p)
	}

	s := c.Survival(p)
	x := append([]float64(nil), c.X...)
	slices.Reverse(s)
	slices.Reverse(x)
	if ip.Reflect {
		for i := range x {
			x[i] = 1 - x[i]
		}
	}

	maxS, minS := floats.Max(s), floats.Min(s)
	lv := ip.Levels

	q := Quantiles{
		Lower:  Interp(lv.Lower, s, x),
		Median: Interp(lv.Median, s, x),
		Upper:  Interp(lv.Upper, s, x),
		Flag:   FlagNone,
	}

	if maxS < lv.Median {
		q.Flag = FlagBelowGrid
	}
	if maxS < lv.Lower {
		q.Lower = ip.Bounds.Low
	}
	if minS > lv.Median {
		q.Flag = FlagAboveGrid
	}
	if minS > lv.Upper {
		q.Upper = ip.Bounds.High
	}

	if maxS == minS {
		q.Degenerate = true
		q.Lower = ip.Bounds.Low
		q.Upper = ip.Bounds.High
	}

	return q, nil
}

// Predict runs Interpolate for every partial hazard and returns the
// reporting form. Rows are independent; the first invalid row aborts.
func (ip *Interpolator) Predict(c Curve, partials []float64) ([]Prediction, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]Prediction, len(partials))
	for i, p := range partials {
		q, err := ip.Interpolate(c, p)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = q.Prediction()
	}
	return out, nil
}

// Interp evaluates the piecewise-linear interpolant through (xp, fp) at x.
// xp must be non-decreasing and may contain ties. Values of x below xp[0]
// return fp[0] and values at or above xp[n-1] return fp[n-1].
func Interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if n == 0 {
		return math.NaN()
	}
	if math.IsNaN(x) {
		return math.NaN()
	}
	if x < xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}

	// j is the last index with xp[j] <= x, so xp[j+1] > x.
	j := sort.Search(n, func(i int) bool { return xp[i] > x }) - 1
	slope := (fp[j+1] - fp[j]) / (xp[j+1] - xp[j])
	return fp[j] + slope*(x-xp[j])
}
