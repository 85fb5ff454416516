package survival

import (
	"fmt"
	"sort"
)

// StepFunction is a right-continuous step function: S(t) = S[k] for the
// largest k with T[k] <= t, and 1 before T[0].
type StepFunction struct {
	T []float64
	S []float64
}

// At evaluates f at t.
func (f StepFunction) At(t float64) float64 {
	k := sort.Search(len(f.T), func(i int) bool { return f.T[i] > t }) - 1
	if k < 0 {
		return 1
	}
	return f.S[k]
}

// KaplanMeier estimates the survival function of (durations, events).
// Weights are not supported; every row counts once.
func KaplanMeier(durations []float64, events []bool) (StepFunction, error) {
	if len(durations) != len(events) {
		return StepFunction{}, fmt.Errorf("kaplan-meier: %d durations but %d events", len(durations), len(events))
	}
	n := len(durations)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return durations[order[a]] < durations[order[b]] })

	var f StepFunction
	surv := 1.0
	atRisk := n
	for i := 0; i < n; {
		t := durations[order[i]]
		deaths, total := 0, 0
		for i < n && durations[order[i]] == t {
			if events[order[i]] {
				deaths++
			}
			total++
			i++
		}
		if deaths > 0 {
			surv *= 1 - float64(deaths)/float64(atRisk)
		}
		f.T = append(f.T, t)
		f.S = append(f.S, surv)
		atRisk -= total
	}
	return f, nil
}
