// Package features turns catalog frames into censored survival datasets.
//
// Escape fractions are mostly upper limits. Reflecting the response,
// d = 1 - response, turns those upper limits into right-censored durations
// that standard survival regressions handle; predictions are mapped back
// with the same reflection.
package features

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidResponseVariable is returned for unrecognised response labels.
var ErrInvalidResponseVariable = errors.New("invalid response variable")

// Response is a catalog column that can be modelled.
type Response string

const (
	EscapeLyC Response = "f_esc(LyC)"
	EscapeLyA Response = "f_esc(LyA)"
	RatioLyC  Response = "f(LyC)"
	RatioLyA  Response = "f(LyA)"
)

// Responses lists the supported labels.
func Responses() []Response {
	return []Response{EscapeLyC, EscapeLyA, RatioLyC, RatioLyA}
}

// ParseResponse validates a response label. Labels are case sensitive.
func ParseResponse(s string) (Response, error) {
	s = strings.TrimSpace(s)
	for _, r := range Responses() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q (must be one of %s)", ErrInvalidResponseVariable, s, strings.Join(labels(), ", "))
}

// ParseResponses validates a list of labels, rejecting duplicates.
func ParseResponses(ss []string) ([]Response, error) {
	if len(ss) == 0 {
		return nil, fmt.Errorf("%w: none given", ErrInvalidResponseVariable)
	}
	out := make([]Response, 0, len(ss))
	seen := make(map[Response]bool, len(ss))
	for _, s := range ss {
		r, err := ParseResponse(s)
		if err != nil {
			return nil, err
		}
		if seen[r] {
			return nil, fmt.Errorf("%w: %q listed twice", ErrInvalidResponseVariable, s)
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

func labels() []string {
	out := make([]string, 0, 4)
	for _, r := range Responses() {
		out = append(out, string(r))
	}
	return out
}

// Line is the emission line a response describes.
type Line int

const (
	LymanContinuum Line = iota
	LymanAlpha
)

func (l Line) String() string {
	if l == LymanAlpha {
		return "LyA"
	}
	return "LyC"
}

// Line returns the emission line of r.
func (r Response) Line() Line {
	if strings.Contains(string(r), "LyA") {
		return LymanAlpha
	}
	return LymanContinuum
}

// ErrColumn is the column holding the response uncertainty.
func (r Response) ErrColumn() string {
	return string(r) + " err"
}

func (r Response) String() string { return string(r) }
