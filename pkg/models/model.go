// Package models fits survival regressions to censored escape-fraction data
// and predicts response quantiles for new observations.
package models

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/HatiCode/lycsurv/pkg/survival"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNotFitted is returned when predicting with a model that has not been
	// fitted or restored.
	ErrNotFitted = errors.New("model not fitted")

	// ErrInsufficientData is returned when a dataset is too small or too
	// uniform to fit or assess.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConstantPredictor is returned when a predictor has zero variance.
	ErrConstantPredictor = errors.New("constant predictor")

	// ErrNonPositiveDuration is returned by models that need log durations.
	ErrNonPositiveDuration = errors.New("non-positive duration")
)

// Dataset is a right-censored training set. Row i has covariates X[i],
// duration Durations[i] and Events[i] set when the duration was observed
// rather than censored.
type Dataset struct {
	Predictors []string
	X          [][]float64
	Durations  []float64
	Events     []bool

	// Weights are per-row case weights; nil means unit weights.
	Weights []float64

	// Index maps each row back to its position in the source catalog.
	Index []int

	// Reflected records that durations are 1 - response.
	Reflected bool
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.Durations) }

// EventCount returns the number of uncensored rows.
func (d Dataset) EventCount() int {
	n := 0
	for _, e := range d.Events {
		if e {
			n++
		}
	}
	return n
}

// Weight returns the weight of row i.
func (d Dataset) Weight(i int) float64 {
	if d.Weights == nil {
		return 1
	}
	return d.Weights[i]
}

// Responses maps durations back to the response scale.
func (d Dataset) Responses() []float64 {
	out := make([]float64, len(d.Durations))
	for i, t := range d.Durations {
		if d.Reflected {
			out[i] = 1 - t
		} else {
			out[i] = t
		}
	}
	return out
}

// Validate checks shapes and values.
func (d Dataset) Validate() error {
	n := len(d.Durations)
	if n == 0 {
		return fmt.Errorf("%w: empty dataset", ErrInsufficientData)
	}
	if len(d.X) != n || len(d.Events) != n {
		return fmt.Errorf("dataset shape mismatch: %d durations, %d rows, %d events", n, len(d.X), len(d.Events))
	}
	if d.Weights != nil && len(d.Weights) != n {
		return fmt.Errorf("dataset shape mismatch: %d durations, %d weights", n, len(d.Weights))
	}
	p := len(d.Predictors)
	for i, row := range d.X {
		if len(row) != p {
			return fmt.Errorf("row %d has %d covariates, want %d", i, len(row), p)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d: non-finite %s", i, d.Predictors[j])
			}
		}
		if math.IsNaN(d.Durations[i]) || math.IsInf(d.Durations[i], 0) {
			return fmt.Errorf("row %d: non-finite duration", i)
		}
		if w := d.Weight(i); !(w > 0) || math.IsInf(w, 0) {
			return fmt.Errorf("row %d: weight must be positive and finite, got %v", i, w)
		}
	}
	if d.EventCount() == 0 {
		return fmt.Errorf("%w: no uncensored rows", ErrInsufficientData)
	}
	return nil
}

// Model is a fitted or fittable survival regression.
type Model interface {
	// Name returns the method identifier.
	Name() string

	// Fit estimates the model from a training set.
	Fit(ctx context.Context, data Dataset) error

	// Predict returns the median and one-sigma uncertainties on the response
	// scale for each covariate row.
	Predict(ctx context.Context, x [][]float64) ([]survival.Prediction, error)

	// PredictMedian returns only the median response for each row.
	PredictMedian(ctx context.Context, x [][]float64) ([]float64, error)

	// Summary describes the fitted coefficients.
	Summary() Summary

	// Params exports the fitted state for storage.
	Params() (Params, error)
}

// Options tune fitting and prediction.
type Options struct {
	// Robust selects the sandwich variance estimator for the Cox model.
	Robust bool

	// Intercept adds a constant term to the Weibull scale.
	Intercept bool

	Levels survival.Levels
	Bounds survival.Bounds

	// MaxIter caps optimiser iterations.
	MaxIter int

	// Tolerance is the convergence threshold on the step norm.
	Tolerance float64
}

// DefaultOptions returns the options used by the command line tool.
func DefaultOptions() Options {
	return Options{
		Robust:    true,
		Intercept: true,
		Levels:    survival.DefaultLevels,
		Bounds:    survival.DefaultBounds,
		MaxIter:   50,
		Tolerance: 1e-9,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Levels == (survival.Levels{}) {
		o.Levels = d.Levels
	}
	if o.Bounds == (survival.Bounds{}) {
		o.Bounds = d.Bounds
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	return o
}

// ConvergenceError reports a fit that did not converge.
type ConvergenceError struct {
	Method        string
	Iterations    int
	LogLikelihood float64
	StepNorm      float64
	Reason        string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge after %d iterations (log-likelihood %.6g, step norm %.3g): %s",
		e.Method, e.Iterations, e.LogLikelihood, e.StepNorm, e.Reason)
}

// columnMoments returns the weighted mean and the standard deviation of each
// column of x.
func columnMoments(x [][]float64, weights []float64, center bool) (means, stds []float64) {
	p := 0
	if len(x) > 0 {
		p = len(x[0])
	}
	means = make([]float64, p)
	stds = make([]float64, p)
	col := make([]float64, len(x))
	for j := 0; j < p; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		if center {
			means[j] = stat.Mean(col, weights)
		}
		stds[j] = stat.StdDev(col, nil)
	}
	return means, stds
}

func checkPredictorVariance(names []string, stds []float64) error {
	for j, s := range stds {
		if !(s > 0) {
			return fmt.Errorf("%w: %s", ErrConstantPredictor, names[j])
		}
	}
	return nil
}

func checkRows(x [][]float64, p int) error {
	for i, row := range x {
		if len(row) != p {
			return fmt.Errorf("row %d has %d covariates, want %d", i, len(row), p)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d: non-finite covariate", i)
			}
		}
	}
	return nil
}
