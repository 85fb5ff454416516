package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Stats are goodness-of-fit statistics of predicted against observed
// responses.
type Stats struct {
	R2          float64 `json:"r2" yaml:"r2"`
	R2Adj       float64 `json:"r2_adj" yaml:"r2_adj"`
	RMS         float64 `json:"rms" yaml:"rms"`
	Concordance float64 `json:"concordance" yaml:"concordance"`

	// Estimator is the concordance estimator used.
	Estimator string `json:"estimator" yaml:"estimator"`

	// N is the number of pairs entering R² and RMS; Excluded counts pairs
	// dropped because a value was not positive.
	N        int `json:"n" yaml:"n"`
	Excluded int `json:"excluded" yaml:"excluded"`
}

// AssessOptions configure Assess.
type AssessOptions struct {
	// Concordance selects the estimator: harrell (default) or uno.
	Concordance string

	// Reflected computes concordance on 1 - value, the model's duration axis.
	Reflected bool
}

// Assess compares predicted and observed responses.
//
// R², adjusted R² (with predictors covariates) and RMS are computed on log10
// values; pairs where either value is not positive are excluded and counted.
// Concordance is computed on the duration axis with events as the
// uncensored indicator.
func Assess(observed, predicted []float64, events []bool, predictors int, opts AssessOptions) (Stats, error) {
	n := len(observed)
	if len(predicted) != n || len(events) != n {
		return Stats{}, fmt.Errorf("assess: %d observed, %d predicted, %d events", n, len(predicted), len(events))
	}

	var logObs, logPred []float64
	excluded := 0
	for i := range observed {
		o, p := observed[i], predicted[i]
		if !(o > 0) || !(p > 0) || math.IsInf(o, 0) || math.IsInf(p, 0) {
			excluded++
			continue
		}
		logObs = append(logObs, math.Log10(o))
		logPred = append(logPred, math.Log10(p))
	}

	k := len(logObs)
	if k <= predictors+1 {
		return Stats{}, fmt.Errorf("%w: %d usable pairs for %d predictors", ErrInsufficientData, k, predictors)
	}
	if stat.Variance(logObs, nil) == 0 {
		return Stats{}, fmt.Errorf("%w: observed values have zero variance", ErrInsufficientData)
	}

	r2 := stat.RSquaredFrom(logPred, logObs, nil)
	ss := 0.0
	for i := range logObs {
		d := logObs[i] - logPred[i]
		ss += d * d
	}

	s := Stats{
		R2:       r2,
		R2Adj:    1 - (1-r2)*float64(k-1)/float64(k-predictors-1),
		RMS:      math.Sqrt(ss / float64(k)),
		N:        k,
		Excluded: excluded,
	}

	estimator, err := ParseConcordance(opts.Concordance)
	if err != nil {
		return Stats{}, err
	}
	s.Estimator = estimator

	var dur, pdur []float64
	var ev []bool
	for i := range observed {
		o, p := observed[i], predicted[i]
		if math.IsNaN(o) || math.IsNaN(p) {
			continue
		}
		if opts.Reflected {
			o, p = 1-o, 1-p
		}
		dur = append(dur, o)
		pdur = append(pdur, p)
		ev = append(ev, events[i])
	}
	c, err := Concordance(dur, pdur, ev, estimator)
	if err != nil {
		return Stats{}, err
	}
	s.Concordance = c
	return s, nil
}
