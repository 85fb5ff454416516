package models

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/floats"

	"github.com/HatiCode/lycsurv/pkg/survival"
)

// escapeDataset simulates a catalog of escape fractions driven by two
// covariates, with random upper limits.
func escapeDataset(n int, seed uint64) Dataset {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	d := Dataset{Predictors: []string{"beta_UV", "O32"}, Reflected: true}
	for i := 0; i < n; i++ {
		x1, x2 := rng.NormFloat64(), rng.NormFloat64()
		f := 0.01 + 0.3/(1+math.Exp(-(0.9*x1-0.6*x2)))*math.Exp(0.25*rng.NormFloat64())
		d.X = append(d.X, []float64{x1, x2})
		d.Durations = append(d.Durations, 1-f)
		d.Events = append(d.Events, rng.Float64() < 0.65)
		d.Index = append(d.Index, i)
	}
	return d
}

func TestCoxModel_FitMatchesClosedForm(t *testing.T) {
	// Three deaths at t=1,2,3 with x=1,0,1. The partial likelihood
	// e^β/(2e^β+1) · 1/(1+e^β) peaks at e^β = 1/√2.
	data := Dataset{
		Predictors: []string{"x"},
		X:          [][]float64{{1}, {0}, {1}},
		Durations:  []float64{1, 2, 3},
		Events:     []bool{true, true, true},
	}
	m := NewCoxModel(Options{Robust: false})
	if err := m.Fit(context.Background(), data); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	wantBeta := -0.5 * math.Ln2
	s := m.Summary()
	if len(s.Coefficients) != 1 {
		t.Fatalf("len(Coefficients) = %d, want 1", len(s.Coefficients))
	}
	if got := s.Coefficients[0].Coef; math.Abs(got-wantBeta) > 1e-7 {
		t.Errorf("Coef = %v, want %v", got, wantBeta)
	}
	if s.Coefficients[0].SE <= 0 {
		t.Errorf("SE = %v, want > 0", s.Coefficients[0].SE)
	}
	if s.Events != 3 || s.Observations != 3 {
		t.Errorf("Observations/Events = %d/%d, want 3/3", s.Observations, s.Events)
	}

	mean := 2.0 / 3.0
	r1 := math.Exp(wantBeta * (1 - mean))
	r0 := math.Exp(wantBeta * (0 - mean))
	h1 := 1 / (2*r1 + r0)
	h2 := h1 + 1/(r0+r1)
	h3 := h2 + 1/r1

	base := m.Baseline()
	if diff := cmp.Diff([]float64{1, 2, 3}, base.X); diff != "" {
		t.Errorf("Baseline().X mismatch (-want +got):\n%s", diff)
	}
	for i, want := range []float64{h1, h2, h3} {
		if math.Abs(base.H[i]-want) > 1e-6 {
			t.Errorf("Baseline().H[%d] = %v, want %v", i, base.H[i], want)
		}
	}

	if got, want := m.PartialHazard([]float64{1}), r1; math.Abs(got-want) > 1e-6 {
		t.Errorf("PartialHazard([1]) = %v, want %v", got, want)
	}
}

func TestEfronLikelihood_Derivatives(t *testing.T) {
	// Ties and weights exercise the Efron correction.
	z := [][]float64{{0.5, -1}, {1.2, 0.3}, {-0.7, 0.8}, {0.1, 0.1}, {-1.5, -0.4}, {0.9, 1.1}}
	tm := []float64{1, 2, 2, 2, 3, 4}
	ev := []bool{true, true, true, false, true, false}
	w := []float64{1, 2, 0.5, 1, 1.5, 1}
	lik := &efronLikelihood{z: z, t: tm, e: ev, w: w, order: argsort(tm)}

	beta := []float64{0.3, -0.2}
	_, grad, info := lik.eval(beta)

	const h = 1e-6
	for j := range beta {
		up := append([]float64(nil), beta...)
		dn := append([]float64(nil), beta...)
		up[j] += h
		dn[j] -= h
		llUp, gUp, _ := lik.eval(up)
		llDn, gDn, _ := lik.eval(dn)

		if got, want := grad[j], (llUp-llDn)/(2*h); math.Abs(got-want) > 1e-5 {
			t.Errorf("grad[%d] = %v, finite difference %v", j, got, want)
		}
		for k := range beta {
			want := -(gUp[k] - gDn[k]) / (2 * h)
			if got := info.At(j, k); math.Abs(got-want) > 1e-5 {
				t.Errorf("info[%d][%d] = %v, finite difference %v", j, k, got, want)
			}
		}
	}
}

func TestCoxModel_Separation(t *testing.T) {
	// Larger x always dies first: the likelihood has no finite maximum.
	data := Dataset{
		Predictors: []string{"x"},
		X:          [][]float64{{4}, {3}, {2}, {1}},
		Durations:  []float64{1, 2, 3, 4},
		Events:     []bool{true, true, true, true},
	}
	err := NewCoxModel(Options{MaxIter: 10}).Fit(context.Background(), data)

	var ce *ConvergenceError
	if !errors.As(err, &ce) {
		t.Fatalf("Fit() error = %v, want *ConvergenceError", err)
	}
	if ce.Method != MethodCoxPH || ce.Iterations == 0 {
		t.Errorf("ConvergenceError = %+v, want method %s with iterations", ce, MethodCoxPH)
	}
}

func TestCoxModel_FitErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    Dataset
		wantErr error
	}{
		{
			name: "constant predictor",
			data: Dataset{
				Predictors: []string{"x"},
				X:          [][]float64{{1}, {1}, {1}},
				Durations:  []float64{1, 2, 3},
				Events:     []bool{true, false, true},
			},
			wantErr: ErrConstantPredictor,
		},
		{
			name: "no events",
			data: Dataset{
				Predictors: []string{"x"},
				X:          [][]float64{{1}, {2}},
				Durations:  []float64{1, 2},
				Events:     []bool{false, false},
			},
			wantErr: ErrInsufficientData,
		},
		{
			name:    "empty",
			data:    Dataset{Predictors: []string{"x"}},
			wantErr: ErrInsufficientData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCoxModel(DefaultOptions()).Fit(context.Background(), tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoxModel_Predict(t *testing.T) {
	ctx := context.Background()
	data := escapeDataset(200, 3)

	m := NewCoxModel(DefaultOptions())
	if _, err := m.Predict(ctx, data.X); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Predict() before Fit error = %v, want %v", err, ErrNotFitted)
	}
	if err := m.Fit(ctx, data); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	// Escape fraction rises with beta_UV, so durations shorten and the
	// hazard coefficient is positive.
	s := m.Summary()
	if s.Coefficients[0].Coef <= 0 {
		t.Errorf("beta_UV coef = %v, want > 0", s.Coefficients[0].Coef)
	}
	if s.Coefficients[1].Coef >= 0 {
		t.Errorf("O32 coef = %v, want < 0", s.Coefficients[1].Coef)
	}

	preds, err := m.Predict(ctx, data.X)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if len(preds) != data.Len() {
		t.Fatalf("len(Predict()) = %d, want %d", len(preds), data.Len())
	}
	for i, p := range preds {
		if p.Median < 0 || p.Median > 1 || math.IsNaN(p.Median) {
			t.Errorf("row %d: Median = %v outside [0, 1]", i, p.Median)
		}
		if p.LowerErr < 0 || p.UpperErr < 0 {
			t.Errorf("row %d: negative uncertainty %+v", i, p)
		}
	}

	if _, err := m.Predict(ctx, [][]float64{{1}}); err == nil {
		t.Error("Predict() with wrong width: expected error")
	}
}

func TestCoxModel_RobustVariance(t *testing.T) {
	ctx := context.Background()
	data := escapeDataset(150, 5)

	plain := NewCoxModel(Options{Robust: false})
	robust := NewCoxModel(Options{Robust: true})
	if err := plain.Fit(ctx, data); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if err := robust.Fit(ctx, data); err != nil {
		t.Fatalf("Fit() robust error = %v", err)
	}

	for j := range data.Predictors {
		pc, rc := plain.Summary().Coefficients[j], robust.Summary().Coefficients[j]
		if math.Abs(pc.Coef-rc.Coef) > 1e-9 {
			t.Errorf("coef %d differs between variance estimators: %v vs %v", j, pc.Coef, rc.Coef)
		}
		if rc.SE <= 0 || math.IsNaN(rc.SE) {
			t.Errorf("robust SE[%d] = %v, want > 0", j, rc.SE)
		}
	}
	if !robust.Summary().Robust {
		t.Error("Summary().Robust = false, want true")
	}
}

func TestCoxModel_RestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	data := escapeDataset(120, 9)

	m := NewCoxModel(DefaultOptions())
	if err := m.Fit(ctx, data); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	params, err := m.Params()
	if err != nil {
		t.Fatalf("Params() error = %v", err)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var decoded Params
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	restored, err := Restore(decoded, DefaultOptions())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	want, _ := m.Predict(ctx, data.X)
	got, err := restored.Predict(ctx, data.X)
	if err != nil {
		t.Fatalf("restored Predict() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("restored predictions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(m.Summary(), restored.Summary()); diff != "" {
		t.Errorf("restored summary mismatch (-want +got):\n%s", diff)
	}
}

func TestScoreResiduals_SumToZeroAtOptimum(t *testing.T) {
	ctx := context.Background()
	data := escapeDataset(80, 13)

	m := NewCoxModel(Options{Robust: false})
	if err := m.Fit(ctx, data); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	means, stds := columnMoments(data.X, nil, true)
	z := make([][]float64, data.Len())
	for i, row := range data.X {
		z[i] = []float64{(row[0] - means[0]) / stds[0], (row[1] - means[1]) / stds[1]}
	}
	betaZ := []float64{m.beta[0] * stds[0], m.beta[1] * stds[1]}
	w := make([]float64, data.Len())
	floats.AddConst(1, w)

	res := scoreResiduals(z, data.Durations, data.Events, w, betaZ, argsort(data.Durations))
	sum := make([]float64, 2)
	for _, r := range res {
		floats.Add(sum, r)
	}
	// Breslow residuals sum to the Breslow score, which is close to the
	// Efron score (zero) when ties are rare.
	if floats.Norm(sum, 2) > 1e-6 {
		t.Errorf("sum of score residuals = %v, want ~0", sum)
	}
}

func TestCoxModel_PredictDegenerateBaseline(t *testing.T) {
	// Every event is tied at the smallest duration, so the Breslow
	// cumulative hazard is constant and each survival curve is flat.
	data := Dataset{
		Predictors: []string{"x"},
		X:          [][]float64{{1}, {2}, {3}, {4}, {1}, {2}, {3}, {4}},
		Durations:  []float64{1, 1, 1, 1, 2, 3, 4, 5},
		Events:     []bool{true, true, true, true, false, false, false, false},
	}
	ctx := context.Background()
	m := NewCoxModel(DefaultOptions())
	if err := m.Fit(ctx, data); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	base := m.Baseline()
	for i, h := range base.H {
		if math.Abs(h-base.H[0]) > 1e-12 {
			t.Fatalf("Baseline().H[%d] = %v, want constant %v", i, h, base.H[0])
		}
	}

	preds, err := m.Predict(ctx, [][]float64{{1}, {2.5}, {4}})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	for i, p := range preds {
		if !p.Degenerate {
			t.Errorf("row %d: Degenerate = false, want true", i)
		}
		if p.Flag != survival.FlagAboveGrid {
			t.Errorf("row %d: Flag = %d, want %d", i, p.Flag, survival.FlagAboveGrid)
		}
		if math.IsNaN(p.Median) || math.IsNaN(p.LowerErr) || math.IsNaN(p.UpperErr) {
			t.Errorf("row %d: NaN in %+v", i, p)
		}
	}
}
