package models

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/lycsurv/pkg/survival"
)

// MethodCoxPH identifies the Cox proportional hazards model.
const MethodCoxPH = "coxph"

// CoxModel is a Cox proportional hazards regression.
//
// The hazard of row i is h(t|x_i) = h0(t)·exp((x_i - mean)·β). β maximises the
// Efron partial likelihood and h0 is the Breslow estimate, so predictions are
// read off S(t|x) = exp(-H0(t)·exp((x - mean)·β)) by quantile interpolation.
//
// Algorithm:
//  1. Standardise covariates: z = (x - mean)/std
//  2. Newton-Raphson on the Efron log partial likelihood in z, halving the
//     step until the likelihood does not decrease
//  3. Stop when the step norm falls below Tolerance; fail after MaxIter
//  4. Rescale β = β_z/std; variance from the inverse information, or the
//     sandwich I⁻¹·(Σ w²·r·rᵀ)·I⁻¹ of score residuals when Robust is set
//  5. Baseline cumulative hazard by Breslow over the unique durations
type CoxModel struct {
	opts Options

	mu         sync.RWMutex
	fitted     bool
	predictors []string
	reflected  bool

	// beta is on the original covariate scale
	beta  []float64
	means []float64

	baseline survival.Curve
	summary  Summary
}

// NewCoxModel creates an unfitted Cox model.
func NewCoxModel(opts Options) *CoxModel {
	return &CoxModel{opts: opts.withDefaults()}
}

// Name returns the model identifier.
func (m *CoxModel) Name() string {
	return MethodCoxPH
}

// Fit estimates β and the baseline hazard from data.
func (m *CoxModel) Fit(ctx context.Context, data Dataset) error {
	if err := data.Validate(); err != nil {
		return err
	}
	p := len(data.Predictors)
	if p == 0 {
		return fmt.Errorf("%w: no predictors", ErrInsufficientData)
	}

	n := data.Len()
	w := make([]float64, n)
	for i := range w {
		w[i] = data.Weight(i)
	}

	means, stds := columnMoments(data.X, data.Weights, true)
	if err := checkPredictorVariance(data.Predictors, stds); err != nil {
		return err
	}

	z := make([][]float64, n)
	for i, row := range data.X {
		z[i] = make([]float64, p)
		for j, v := range row {
			z[i][j] = (v - means[j]) / stds[j]
		}
	}

	order := argsort(data.Durations)
	lik := &efronLikelihood{z: z, t: data.Durations, e: data.Events, w: w, order: order}

	betaZ := make([]float64, p)
	ll, grad, info := lik.eval(betaZ)

	var (
		stepNorm  float64
		converged bool
		iter      int
	)
	for iter = 1; iter <= m.opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		delta, err := solveSym(info, grad)
		if err != nil {
			return &ConvergenceError{
				Method: MethodCoxPH, Iterations: iter, LogLikelihood: ll,
				StepNorm: stepNorm, Reason: err.Error(),
			}
		}

		scale := 1.0
		cand := make([]float64, p)
		var (
			llNew   float64
			gradNew []float64
			infoNew *mat.SymDense
			better  bool
		)
		for halving := 0; halving <= 30; halving++ {
			floats.AddScaledTo(cand, betaZ, scale, delta)
			llNew, gradNew, infoNew = lik.eval(cand)
			if !math.IsNaN(llNew) && !math.IsInf(llNew, 0) && llNew >= ll {
				better = true
				break
			}
			scale /= 2
		}

		stepNorm = scale * floats.Norm(delta, 2)
		if !better {
			// At the optimum the Newton step is tiny and rounding alone
			// stops the ascent; a large step means the likelihood is flat
			// along a divergent direction.
			if floats.Norm(delta, 2) < math.Sqrt(m.opts.Tolerance) {
				converged = true
				break
			}
			return &ConvergenceError{
				Method: MethodCoxPH, Iterations: iter, LogLikelihood: ll,
				StepNorm: floats.Norm(delta, 2), Reason: "step halving failed to increase the likelihood",
			}
		}

		betaZ, ll, grad, info = cand, llNew, gradNew, infoNew
		if stepNorm < m.opts.Tolerance {
			converged = true
			break
		}
	}
	if !converged {
		return &ConvergenceError{
			Method: MethodCoxPH, Iterations: m.opts.MaxIter, LogLikelihood: ll,
			StepNorm: stepNorm, Reason: "step norm above tolerance (possible complete separation)",
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok {
		return &ConvergenceError{
			Method: MethodCoxPH, Iterations: iter, LogLikelihood: ll,
			StepNorm: stepNorm, Reason: "information matrix not positive definite at optimum",
		}
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return fmt.Errorf("invert information matrix: %w", err)
	}

	var varZ mat.Matrix = &cov
	if m.opts.Robust {
		varZ = sandwich(&cov, scoreResiduals(z, data.Durations, data.Events, w, betaZ, order), w)
	}

	beta := make([]float64, p)
	se := make([]float64, p)
	for j := range beta {
		beta[j] = betaZ[j] / stds[j]
		se[j] = math.Sqrt(varZ.At(j, j)) / stds[j]
	}

	baseline := breslow(z, data.Durations, data.Events, w, betaZ, order)

	summary := Summary{
		Method:        MethodCoxPH,
		Observations:  n,
		Events:        data.EventCount(),
		LogLikelihood: ll,
		Iterations:    iter,
		Robust:        m.opts.Robust,
		Means:         make(map[string]float64, p),
	}
	for j, name := range data.Predictors {
		summary.Coefficients = append(summary.Coefficients, newCoefficient(name, beta[j], se[j]))
		summary.Means[name] = means[j]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictors = append([]string(nil), data.Predictors...)
	m.reflected = data.Reflected
	m.beta = beta
	m.means = means
	m.baseline = baseline
	m.summary = summary
	m.fitted = true
	return nil
}

// PartialHazard returns exp((x - mean)·β) for one covariate row.
func (m *CoxModel) PartialHazard(x []float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.partialHazard(x)
}

func (m *CoxModel) partialHazard(x []float64) float64 {
	eta := 0.0
	for j, b := range m.beta {
		eta += (x[j] - m.means[j]) * b
	}
	return math.Exp(eta)
}

// Baseline returns a copy of the fitted baseline cumulative hazard.
func (m *CoxModel) Baseline() survival.Curve {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseline.Clone()
}

// Predict interpolates the response quantiles of each row.
func (m *CoxModel) Predict(ctx context.Context, x [][]float64) ([]survival.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted {
		return nil, ErrNotFitted
	}
	if err := checkRows(x, len(m.beta)); err != nil {
		return nil, err
	}

	ip := &survival.Interpolator{Levels: m.opts.Levels, Bounds: m.opts.Bounds, Reflect: m.reflected}
	out := make([]survival.Prediction, len(x))
	for i, row := range x {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		q, err := ip.Interpolate(m.baseline, m.partialHazard(row))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = q.Prediction()
	}
	return out, nil
}

// PredictMedian returns the median response of each row.
func (m *CoxModel) PredictMedian(ctx context.Context, x [][]float64) ([]float64, error) {
	preds, err := m.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	return medians(preds), nil
}

// Summary returns the coefficient table.
func (m *CoxModel) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary
}

// Params exports the fitted state.
func (m *CoxModel) Params() (Params, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.fitted {
		return Params{}, ErrNotFitted
	}
	baseline := m.baseline.Clone()
	return Params{
		Method:       MethodCoxPH,
		Predictors:   append([]string(nil), m.predictors...),
		Reflected:    m.reflected,
		Coefficients: append([]float64(nil), m.beta...),
		Means:        append([]float64(nil), m.means...),
		Baseline:     &baseline,
		Summary:      m.summary,
	}, nil
}

func (m *CoxModel) restore(p Params) error {
	if p.Baseline == nil {
		return fmt.Errorf("coxph params: missing baseline")
	}
	if err := p.Baseline.Validate(); err != nil {
		return err
	}
	if len(p.Coefficients) != len(p.Predictors) || len(p.Means) != len(p.Predictors) {
		return fmt.Errorf("coxph params: %d predictors, %d coefficients, %d means",
			len(p.Predictors), len(p.Coefficients), len(p.Means))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictors = append([]string(nil), p.Predictors...)
	m.reflected = p.Reflected
	m.beta = append([]float64(nil), p.Coefficients...)
	m.means = append([]float64(nil), p.Means...)
	m.baseline = p.Baseline.Clone()
	m.summary = p.Summary
	m.fitted = true
	return nil
}

// efronLikelihood evaluates the weighted Efron log partial likelihood, its
// gradient and the observed information matrix.
type efronLikelihood struct {
	z     [][]float64
	t     []float64
	e     []bool
	w     []float64
	order []int // ascending durations
}

func (l *efronLikelihood) eval(beta []float64) (float64, []float64, *mat.SymDense) {
	p := len(beta)
	n := len(l.order)

	grad := make([]float64, p)
	info := make([]float64, p*p)

	riskS0 := 0.0
	riskS1 := make([]float64, p)
	riskS2 := make([]float64, p*p)
	tieS1 := make([]float64, p)
	tieS2 := make([]float64, p*p)
	num1 := make([]float64, p)

	ll := 0.0
	for i := n - 1; i >= 0; {
		ti := l.t[l.order[i]]

		tieS0 := 0.0
		for k := range tieS1 {
			tieS1[k] = 0
		}
		for k := range tieS2 {
			tieS2[k] = 0
		}
		deaths := 0
		deathWeight := 0.0

		j := i
		for ; j >= 0 && l.t[l.order[j]] == ti; j-- {
			k := l.order[j]
			zk := l.z[k]
			eta := floats.Dot(zk, beta)
			r := l.w[k] * math.Exp(eta)

			riskS0 += r
			addOuter(riskS1, riskS2, r, zk)
			if l.e[k] {
				tieS0 += r
				addOuter(tieS1, tieS2, r, zk)
				deaths++
				deathWeight += l.w[k]
				ll += l.w[k] * eta
				floats.AddScaled(grad, l.w[k], zk)
			}
		}

		if deaths > 0 {
			d := float64(deaths)
			meanW := deathWeight / d
			for q := 0; q < deaths; q++ {
				frac := float64(q) / d
				den := riskS0 - frac*tieS0
				for a := 0; a < p; a++ {
					num1[a] = riskS1[a] - frac*tieS1[a]
				}
				ll -= meanW * math.Log(den)
				floats.AddScaled(grad, -meanW/den, num1)
				for a := 0; a < p; a++ {
					for b := 0; b < p; b++ {
						num2 := riskS2[a*p+b] - frac*tieS2[a*p+b]
						info[a*p+b] += meanW * (num2/den - num1[a]*num1[b]/(den*den))
					}
				}
			}
		}
		i = j
	}

	// Symmetrise against rounding before handing to Cholesky.
	for a := 0; a < p; a++ {
		for b := a + 1; b < p; b++ {
			v := (info[a*p+b] + info[b*p+a]) / 2
			info[a*p+b], info[b*p+a] = v, v
		}
	}
	return ll, grad, mat.NewSymDense(p, info)
}

func addOuter(s1, s2 []float64, r float64, z []float64) {
	p := len(z)
	floats.AddScaled(s1, r, z)
	for a := 0; a < p; a++ {
		for b := 0; b < p; b++ {
			s2[a*p+b] += r * z[a] * z[b]
		}
	}
}

func solveSym(a *mat.SymDense, b []float64) ([]float64, error) {
	p := len(b)
	rhs := mat.NewVecDense(p, append([]float64(nil), b...))
	x := mat.NewVecDense(p, nil)

	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(x, rhs); err == nil {
			return x.RawVector().Data, nil
		}
	}
	if err := x.SolveVec(a, rhs); err != nil {
		return nil, fmt.Errorf("singular information matrix: %w", err)
	}
	return x.RawVector().Data, nil
}

// scoreResiduals returns the per-row score residuals at beta (Breslow
// approximation for ties).
func scoreResiduals(z [][]float64, t []float64, e []bool, w, beta []float64, order []int) [][]float64 {
	n, p := len(z), len(beta)

	risk := make([]float64, n)
	for i := range z {
		risk[i] = math.Exp(floats.Dot(z[i], beta))
	}

	type tick struct {
		s0 float64
		dn float64
		a  []float64
	}

	// Risk-set sums per unique duration, accumulated from the longest.
	var ticks []tick
	s0 := 0.0
	s1 := make([]float64, p)
	for i := n - 1; i >= 0; {
		ti := t[order[i]]
		dn := 0.0
		j := i
		for ; j >= 0 && t[order[j]] == ti; j-- {
			k := order[j]
			s0 += w[k] * risk[k]
			floats.AddScaled(s1, w[k]*risk[k], z[k])
			if e[k] {
				dn += w[k]
			}
		}
		a := make([]float64, p)
		floats.ScaleTo(a, 1/s0, s1)
		ticks = append(ticks, tick{s0: s0, dn: dn, a: a})
		i = j
	}

	res := make([][]float64, n)
	cum := 0.0
	cumA := make([]float64, p)
	tk := len(ticks) - 1
	for pos := 0; pos < n; tk-- {
		ti := t[order[pos]]
		cur := ticks[tk]
		if cur.dn > 0 {
			c := cur.dn / cur.s0
			cum += c
			floats.AddScaled(cumA, c, cur.a)
		}
		for ; pos < n && t[order[pos]] == ti; pos++ {
			k := order[pos]
			r := make([]float64, p)
			for j := 0; j < p; j++ {
				if e[k] {
					r[j] = z[k][j] - cur.a[j]
				}
				r[j] -= risk[k] * (z[k][j]*cum - cumA[j])
			}
			res[k] = r
		}
	}
	return res
}

// sandwich returns I⁻¹·(Σ w_i²·r_i·r_iᵀ)·I⁻¹.
func sandwich(inv *mat.SymDense, resid [][]float64, w []float64) *mat.Dense {
	p, _ := inv.Dims()
	meat := mat.NewDense(p, p, nil)
	for i, r := range resid {
		wi := w[i] * w[i]
		for a := 0; a < p; a++ {
			for b := 0; b < p; b++ {
				meat.Set(a, b, meat.At(a, b)+wi*r[a]*r[b])
			}
		}
	}
	var tmp, out mat.Dense
	tmp.Mul(inv, meat)
	out.Mul(&tmp, inv)
	return &out
}

// breslow estimates the baseline cumulative hazard on the unique durations.
func breslow(z [][]float64, t []float64, e []bool, w, beta []float64, order []int) survival.Curve {
	n := len(order)

	type step struct{ t, s0, dn float64 }
	var steps []step
	s0 := 0.0
	for i := n - 1; i >= 0; {
		ti := t[order[i]]
		dn := 0.0
		j := i
		for ; j >= 0 && t[order[j]] == ti; j-- {
			k := order[j]
			s0 += w[k] * math.Exp(floats.Dot(z[k], beta))
			if e[k] {
				dn += w[k]
			}
		}
		steps = append(steps, step{t: ti, s0: s0, dn: dn})
		i = j
	}

	c := survival.Curve{X: make([]float64, 0, len(steps)), H: make([]float64, 0, len(steps))}
	h := 0.0
	for k := len(steps) - 1; k >= 0; k-- {
		h += steps[k].dn / steps[k].s0
		c.X = append(c.X, steps[k].t)
		c.H = append(c.H, h)
	}
	return c
}

func argsort(v []float64) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	return idx
}

func medians(preds []survival.Prediction) []float64 {
	out := make([]float64, len(preds))
	for i, p := range preds {
		out[i] = p.Median
	}
	return out
}
