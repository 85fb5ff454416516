package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/HatiCode/lycsurv/pkg/survival"
)

// MethodWeibull identifies the Weibull accelerated failure time model.
const MethodWeibull = "weibull"

// WeibullModel is a Weibull accelerated failure time regression:
//
//	S(t|x) = exp(-(t/λ(x))^ρ),  log λ(x) = β₀ + x·β,  log ρ constant
//
// Parameters maximise the right-censored log-likelihood with BFGS on
// standardised covariates. Quantiles come in closed form,
// t_q = λ(-ln q)^{1/ρ}, and are clamped to the response bounds.
type WeibullModel struct {
	opts Options

	mu         sync.RWMutex
	fitted     bool
	predictors []string
	reflected  bool

	beta      []float64
	intercept float64
	logRho    float64

	summary Summary
}

// NewWeibullModel creates an unfitted Weibull AFT model.
func NewWeibullModel(opts Options) *WeibullModel {
	return &WeibullModel{opts: opts.withDefaults()}
}

// Name returns the model identifier.
func (m *WeibullModel) Name() string {
	return MethodWeibull
}

// weibullLikelihood is the weighted negative log-likelihood over
// θ = [b_1..b_p, (b₀), log ρ] in standardised covariates.
type weibullLikelihood struct {
	z         [][]float64
	logT      []float64
	e         []bool
	w         []float64
	intercept bool
	scale     float64 // objective divisor
}

func (l *weibullLikelihood) p() int { return len(l.z[0]) }

func (l *weibullLikelihood) eta(theta []float64, i int) float64 {
	p := l.p()
	v := floats.Dot(l.z[i], theta[:p])
	if l.intercept {
		v += theta[p]
	}
	return v
}

func (l *weibullLikelihood) negLL(theta []float64) float64 {
	a := theta[len(theta)-1]
	rho := math.Exp(a)
	ll := 0.0
	for i := range l.z {
		s := l.logT[i] - l.eta(theta, i)
		u := math.Exp(rho * s)
		li := -u
		if l.e[i] {
			li += a - l.eta(theta, i) + (rho-1)*s
		}
		ll += l.w[i] * li
	}
	return -ll / l.scale
}

func (l *weibullLikelihood) grad(g, theta []float64) {
	p := l.p()
	a := theta[len(theta)-1]
	rho := math.Exp(a)
	for k := range g {
		g[k] = 0
	}
	for i := range l.z {
		s := l.logT[i] - l.eta(theta, i)
		u := math.Exp(rho * s)
		delta := 0.0
		if l.e[i] {
			delta = 1
		}
		dEta := rho * (u - delta)
		dA := delta + rho*s*(delta-u)

		for j := 0; j < p; j++ {
			g[j] -= l.w[i] * dEta * l.z[i][j]
		}
		if l.intercept {
			g[p] -= l.w[i] * dEta
		}
		g[len(g)-1] -= l.w[i] * dA
	}
	floats.Scale(1/l.scale, g)
}

// Fit estimates the Weibull parameters by maximum likelihood.
func (m *WeibullModel) Fit(ctx context.Context, data Dataset) error {
	if err := data.Validate(); err != nil {
		return err
	}
	p := len(data.Predictors)
	if p == 0 {
		return fmt.Errorf("%w: no predictors", ErrInsufficientData)
	}

	n := data.Len()
	logT := make([]float64, n)
	bad := 0
	for i, t := range data.Durations {
		if t <= 0 {
			bad++
			continue
		}
		logT[i] = math.Log(t)
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d of %d rows (response >= 1 under reflection)", ErrNonPositiveDuration, bad, n)
	}

	intercept := m.opts.Intercept
	means, stds := columnMoments(data.X, data.Weights, intercept)
	if err := checkPredictorVariance(data.Predictors, stds); err != nil {
		return err
	}

	z := make([][]float64, n)
	w := make([]float64, n)
	for i, row := range data.X {
		z[i] = make([]float64, p)
		for j, v := range row {
			z[i][j] = (v - means[j]) / stds[j]
		}
		w[i] = data.Weight(i)
	}

	lik := &weibullLikelihood{
		z: z, logT: logT, e: data.Events, w: w,
		intercept: intercept, scale: floats.Sum(w),
	}

	dim := p + 1
	if intercept {
		dim++
	}
	theta0 := make([]float64, dim)
	if intercept {
		theta0[p] = floats.Dot(w, logT) / lik.scale
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	problem := optimize.Problem{
		Func: lik.negLL,
		Grad: lik.grad,
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-8,
		MajorIterations:   10 * m.opts.MaxIter,
	}
	result, err := optimize.Minimize(problem, theta0, settings, &optimize.BFGS{})
	if result == nil {
		return &ConvergenceError{Method: MethodWeibull, Reason: fmt.Sprint(err)}
	}

	g := make([]float64, dim)
	lik.grad(g, result.X)
	gradNorm := floats.Norm(g, 2)
	iterations := result.Stats.MajorIterations
	if err != nil || result.Status == optimize.IterationLimit {
		// A line search that stalls at the optimum is not a failure.
		if gradNorm > 1e-5 {
			reason := result.Status.String()
			if err != nil {
				reason = err.Error()
			}
			return &ConvergenceError{
				Method: MethodWeibull, Iterations: iterations,
				LogLikelihood: -result.F * lik.scale, StepNorm: gradNorm, Reason: reason,
			}
		}
	}

	theta := result.X
	if floats.HasNaN(theta) {
		return &ConvergenceError{
			Method: MethodWeibull, Iterations: iterations,
			LogLikelihood: math.NaN(), Reason: "non-finite parameters",
		}
	}

	cov, covErr := weibullCovariance(lik, theta)

	beta := make([]float64, p)
	for j := range beta {
		beta[j] = theta[j] / stds[j]
	}
	b0 := 0.0
	if intercept {
		b0 = theta[p]
		for j := 0; j < p; j++ {
			b0 -= theta[j] * means[j] / stds[j]
		}
	}
	logRho := theta[dim-1]

	se := func(g []float64) float64 {
		if covErr != nil {
			return 0
		}
		gv := mat.NewVecDense(dim, g)
		return math.Sqrt(mat.Inner(gv, cov, gv))
	}

	summary := Summary{
		Method:        MethodWeibull,
		Observations:  n,
		Events:        data.EventCount(),
		LogLikelihood: -result.F * lik.scale,
		Iterations:    iterations,
		Means:         make(map[string]float64, p),
	}
	for j, name := range data.Predictors {
		g := make([]float64, dim)
		g[j] = 1 / stds[j]
		summary.Coefficients = append(summary.Coefficients, newCoefficient("lambda_:"+name, beta[j], se(g)))
		summary.Means[name] = means[j]
	}
	if intercept {
		g := make([]float64, dim)
		g[p] = 1
		for j := 0; j < p; j++ {
			g[j] = -means[j] / stds[j]
		}
		summary.Coefficients = append(summary.Coefficients, newCoefficient("lambda_:Intercept", b0, se(g)))
	}
	gRho := make([]float64, dim)
	gRho[dim-1] = 1
	summary.Coefficients = append(summary.Coefficients, newCoefficient("rho_:Intercept", logRho, se(gRho)))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictors = append([]string(nil), data.Predictors...)
	m.reflected = data.Reflected
	m.beta = beta
	m.intercept = b0
	m.logRho = logRho
	m.summary = summary
	m.fitted = true
	return nil
}

var errNotPositiveDefinite = errors.New("hessian not positive definite")

// weibullCovariance inverts the observed information, the Jacobian of the
// unscaled gradient at theta.
func weibullCovariance(lik *weibullLikelihood, theta []float64) (*mat.SymDense, error) {
	dim := len(theta)
	jac := mat.NewDense(dim, dim, nil)
	fd.Jacobian(jac, lik.grad, theta, &fd.JacobianSettings{Formula: fd.Central})

	info := mat.NewSymDense(dim, nil)
	for a := 0; a < dim; a++ {
		for b := a; b < dim; b++ {
			info.SetSym(a, b, lik.scale*(jac.At(a, b)+jac.At(b, a))/2)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(info) {
		return nil, errNotPositiveDefinite
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, err
	}
	return &cov, nil
}

// Scale returns λ(x).
func (m *WeibullModel) Scale(x []float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lambda(x)
}

func (m *WeibullModel) lambda(x []float64) float64 {
	return math.Exp(m.intercept + floats.Dot(x, m.beta))
}

// Shape returns ρ.
func (m *WeibullModel) Shape() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return math.Exp(m.logRho)
}

// Percentile returns the duration t with S(t|x) = q.
func (m *WeibullModel) Percentile(x []float64, q float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.percentile(x, q)
}

func (m *WeibullModel) percentile(x []float64, q float64) float64 {
	rho := math.Exp(m.logRho)
	return m.lambda(x) * math.Pow(-math.Log(q), 1/rho)
}

// Predict returns clamped response quantiles for each row. The flag is -1
// when the median clamps at the short-duration end and +1 at the long end.
func (m *WeibullModel) Predict(ctx context.Context, x [][]float64) ([]survival.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted {
		return nil, ErrNotFitted
	}
	if err := checkRows(x, len(m.beta)); err != nil {
		return nil, err
	}

	lv, bounds := m.opts.Levels, m.opts.Bounds
	out := make([]survival.Prediction, len(x))
	for i, row := range x {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		a := m.toResponse(m.percentile(row, lv.Lower))
		med := m.toResponse(m.percentile(row, lv.Median))
		b := m.toResponse(m.percentile(row, lv.Upper))

		q := survival.Quantiles{
			Lower:  clamp(math.Min(a, b), bounds),
			Median: clamp(med, bounds),
			Upper:  clamp(math.Max(a, b), bounds),
			Flag:   survival.FlagNone,
		}
		short := med > bounds.High
		long := med < bounds.Low
		if !m.reflected {
			short, long = med < bounds.Low, med > bounds.High
		}
		switch {
		case short:
			q.Flag = survival.FlagBelowGrid
		case long:
			q.Flag = survival.FlagAboveGrid
		}
		out[i] = q.Prediction()
	}
	return out, nil
}

func (m *WeibullModel) toResponse(t float64) float64 {
	if m.reflected {
		return 1 - t
	}
	return t
}

func clamp(v float64, b survival.Bounds) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(b.Low, math.Min(b.High, v))
}

// PredictMedian returns the median response of each row.
func (m *WeibullModel) PredictMedian(ctx context.Context, x [][]float64) ([]float64, error) {
	preds, err := m.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	return medians(preds), nil
}

// Summary returns the coefficient table.
func (m *WeibullModel) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary
}

// Params exports the fitted state.
func (m *WeibullModel) Params() (Params, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted {
		return Params{}, ErrNotFitted
	}
	return Params{
		Method:       MethodWeibull,
		Predictors:   append([]string(nil), m.predictors...),
		Reflected:    m.reflected,
		Coefficients: append([]float64(nil), m.beta...),
		HasIntercept: m.opts.Intercept,
		Intercept:    m.intercept,
		LogShape:     m.logRho,
		Summary:      m.summary,
	}, nil
}

func (m *WeibullModel) restore(p Params) error {
	if len(p.Coefficients) != len(p.Predictors) {
		return fmt.Errorf("weibull params: %d predictors, %d coefficients", len(p.Predictors), len(p.Coefficients))
	}
	if math.IsNaN(p.LogShape) || math.IsInf(p.LogShape, 0) {
		return fmt.Errorf("weibull params: invalid log shape %v", p.LogShape)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Intercept = p.HasIntercept
	m.predictors = append([]string(nil), p.Predictors...)
	m.reflected = p.Reflected
	m.beta = append([]float64(nil), p.Coefficients...)
	m.intercept = p.Intercept
	m.logRho = p.LogShape
	m.summary = p.Summary
	m.fitted = true
	return nil
}
