package survival

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Levels are the survival probabilities at which a fitted curve is read.
// Lower and Upper bracket a one-sigma interval around Median.
type Levels struct {
	Lower  float64
	Median float64
	Upper  float64
}

// DefaultLevels reads the curve at the one-sigma points of a normal
// distribution either side of the median.
var DefaultLevels = Levels{Lower: 0.1587, Median: 0.5, Upper: 0.8413}

// Validate checks 0 < Lower < Median < Upper < 1.
func (l Levels) Validate() error {
	if !(l.Lower > 0 && l.Lower < l.Median && l.Median < l.Upper && l.Upper < 1) {
		return fmt.Errorf("levels must satisfy 0 < lower < median < upper < 1, got %s", l)
	}
	return nil
}

func (l Levels) String() string {
	return FormatLevel(l.Lower) + "," + FormatLevel(l.Median) + "," + FormatLevel(l.Upper)
}

// ParseLevels parses a comma separated triple of levels such as
// "p15.87,p50,p84.13" or "0.1587,0.5,0.8413". An empty string yields
// DefaultLevels.
func ParseLevels(s string) (Levels, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLevels, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Levels{}, fmt.Errorf("levels %q: expected lower,median,upper", s)
	}

	var vals [3]float64
	for i, p := range parts {
		v, err := ParseLevel(p)
		if err != nil {
			return Levels{}, err
		}
		vals[i] = v
	}

	l := Levels{Lower: vals[0], Median: vals[1], Upper: vals[2]}
	if err := l.Validate(); err != nil {
		return Levels{}, err
	}
	return l, nil
}

// ParseLevel parses a survival level from either p-notation (p15.87, p50)
// or decimal notation (0.1587, 0.5).
//
// Examples:
//   - "p50" → 0.50
//   - "p84.13" → 0.8413
//   - "0.1587" → 0.1587
//
// The level must lie strictly inside (0, 1).
func ParseLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty level")
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		if percentile <= 0 || percentile >= 100 {
			return 0, fmt.Errorf("percentile %v out of range (0, 100)", percentile)
		}
		return percentile / 100.0, nil
	}

	level, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid level %q: %w", s, err)
	}
	if level <= 0 || level >= 1 {
		return 0, fmt.Errorf("level %v out of range (0, 1)", level)
	}
	return level, nil
}

// FormatLevel formats a level in p-notation for display.
//
// Examples:
//   - 0.50 → "p50"
//   - 0.1587 → "p15.87"
func FormatLevel(q float64) string {
	percentile := math.Round(q*1e6) / 1e4
	return "p" + strconv.FormatFloat(percentile, 'f', -1, 64)
}

// Bounds is the physical range of the response. Saturated quantiles are
// forced onto these values.
type Bounds struct {
	Low  float64
	High float64
}

// DefaultBounds is the range of an escape fraction.
var DefaultBounds = Bounds{Low: 0, High: 1}
