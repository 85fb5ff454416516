package models

import (
	"errors"
	"math"
	"testing"
)

func TestConcordance(t *testing.T) {
	tests := []struct {
		name      string
		durations []float64
		predicted []float64
		events    []bool
		method    string
		want      float64
	}{
		{"perfect", []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, []bool{true, true, true, true}, ConcordanceHarrell, 1},
		{"reversed", []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1}, []bool{true, true, true, true}, ConcordanceHarrell, 0},
		{"tied predictions", []float64{1, 2, 3}, []float64{5, 5, 5}, []bool{true, true, true}, ConcordanceHarrell, 0.5},
		{"one discordant", []float64{1, 2, 3, 4}, []float64{1, 3, 2, 4}, []bool{true, true, true, true}, ConcordanceHarrell, 5.0 / 6.0},
		{"censored middle", []float64{1, 2, 3}, []float64{2.5, 3, 2}, []bool{true, false, true}, ConcordanceHarrell, 0.5},
		{"uno without censoring", []float64{1, 2, 3, 4}, []float64{1, 3, 2, 4}, []bool{true, true, true, true}, ConcordanceUno, 5.0 / 6.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Concordance(tt.durations, tt.predicted, tt.events, tt.method)
			if err != nil {
				t.Fatalf("Concordance() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Concordance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcordance_UnoWeights(t *testing.T) {
	// Rows: t=1 event, t=2 censored, t=3 event, t=4 event.
	// Censoring survival G is 1 before t=2 and 2/3 from t=2 on.
	durations := []float64{1, 2, 3, 4}
	events := []bool{true, false, true, true}
	predicted := []float64{1, 2, 4, 3}

	// Pairs from i=0 (weight 1): j=1,2,3 all concordant.
	// Pair (2,3) has weight 1/(2/3)² = 2.25 and is discordant.
	want := 3.0 / (3.0 + 2.25)

	got, err := Concordance(durations, predicted, events, ConcordanceUno)
	if err != nil {
		t.Fatalf("Concordance() error = %v", err)
	}
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Concordance() = %v, want %v", got, want)
	}
}

func TestConcordance_Errors(t *testing.T) {
	if _, err := Concordance([]float64{1, 2}, []float64{1, 2}, []bool{false, false}, ConcordanceHarrell); !errors.Is(err, ErrNoComparablePairs) {
		t.Errorf("Concordance() all censored error = %v, want %v", err, ErrNoComparablePairs)
	}
	if _, err := Concordance([]float64{1, 2}, []float64{1}, []bool{true, true}, ConcordanceHarrell); err == nil {
		t.Error("Concordance() length mismatch: expected error")
	}
	if _, err := Concordance([]float64{1, 2}, []float64{1, 2}, []bool{true, true}, "somers"); err == nil {
		t.Error("Concordance() unknown estimator: expected error")
	}
}

func TestAssess(t *testing.T) {
	observed := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0}
	events := []bool{true, true, true, true, true, false}

	s, err := Assess(observed, observed, events, 1, AssessOptions{Reflected: true})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	if s.N != 5 || s.Excluded != 1 {
		t.Errorf("N/Excluded = %d/%d, want 5/1", s.N, s.Excluded)
	}
	if math.Abs(s.R2-1) > 1e-12 || math.Abs(s.R2Adj-1) > 1e-12 {
		t.Errorf("R2/R2Adj = %v/%v, want 1/1", s.R2, s.R2Adj)
	}
	if s.RMS != 0 {
		t.Errorf("RMS = %v, want 0", s.RMS)
	}
	if s.Concordance != 1 {
		t.Errorf("Concordance = %v, want 1", s.Concordance)
	}
	if s.Estimator != ConcordanceHarrell {
		t.Errorf("Estimator = %q, want %q", s.Estimator, ConcordanceHarrell)
	}
}

func TestAssess_KnownValues(t *testing.T) {
	observed := []float64{1, 10, 100, 1000}
	predicted := []float64{1, 100, 10, 1000}
	events := []bool{true, true, true, true}

	s, err := Assess(observed, predicted, events, 1, AssessOptions{})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}
	// log10 values 0,1,2,3 against 0,2,1,3: SSres = 2, SStot = 5.
	if math.Abs(s.R2-0.6) > 1e-12 {
		t.Errorf("R2 = %v, want 0.6", s.R2)
	}
	if want := 1 - 0.4*3/2; math.Abs(s.R2Adj-want) > 1e-12 {
		t.Errorf("R2Adj = %v, want %v", s.R2Adj, want)
	}
	if want := math.Sqrt(0.5); math.Abs(s.RMS-want) > 1e-12 {
		t.Errorf("RMS = %v, want %v", s.RMS, want)
	}
}

func TestAssess_InsufficientData(t *testing.T) {
	_, err := Assess([]float64{0.1, 0.2}, []float64{0.1, 0.2}, []bool{true, true}, 1, AssessOptions{})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Assess() error = %v, want %v", err, ErrInsufficientData)
	}
}
