package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HatiCode/lycsurv/pkg/survival"
)

// Concordance estimators.
const (
	ConcordanceHarrell = "harrell"
	ConcordanceUno     = "uno"
)

// ErrNoComparablePairs is returned when no pair of rows can be ordered.
var ErrNoComparablePairs = errors.New("no comparable pairs")

// ParseConcordance validates an estimator name.
func ParseConcordance(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ConcordanceHarrell:
		return ConcordanceHarrell, nil
	case ConcordanceUno:
		return ConcordanceUno, nil
	default:
		return "", fmt.Errorf("unknown concordance estimator %q (supported: %s, %s)", s, ConcordanceHarrell, ConcordanceUno)
	}
}

// Concordance measures how well predicted durations order the observed ones.
// A pair (i, j) is comparable when row i had an event and an earlier
// duration; it is concordant when the prediction for i is also shorter.
// Tied predictions count one half.
//
// harrell weights every comparable pair equally and also treats a row
// censored at the same time as an event as outliving it. uno weights pairs
// by 1/G(t_i)², G being the Kaplan-Meier survival of the censoring.
func Concordance(durations, predicted []float64, events []bool, method string) (float64, error) {
	n := len(durations)
	if len(predicted) != n || len(events) != n {
		return 0, fmt.Errorf("concordance: %d durations, %d predictions, %d events", n, len(predicted), len(events))
	}

	method, err := ParseConcordance(method)
	if err != nil {
		return 0, err
	}

	var weightOf func(i int) float64
	strict := method == ConcordanceUno
	if method == ConcordanceUno {
		censored := make([]bool, n)
		for i, e := range events {
			censored[i] = !e
		}
		g, err := survival.KaplanMeier(durations, censored)
		if err != nil {
			return 0, err
		}
		weightOf = func(i int) float64 {
			gi := g.At(durations[i])
			if gi <= 0 {
				return 0
			}
			return 1 / (gi * gi)
		}
	} else {
		weightOf = func(int) float64 { return 1 }
	}

	var num, den float64
	for i := 0; i < n; i++ {
		if !events[i] {
			continue
		}
		wi := -1.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			comparable := durations[i] < durations[j] ||
				(!strict && durations[i] == durations[j] && !events[j])
			if !comparable {
				continue
			}
			if wi < 0 {
				wi = weightOf(i)
			}
			if wi == 0 {
				break
			}
			den += wi
			switch {
			case predicted[i] < predicted[j]:
				num += wi
			case predicted[i] == predicted[j]:
				num += wi / 2
			}
		}
	}

	if den == 0 {
		return 0, ErrNoComparablePairs
	}
	return num / den, nil
}
