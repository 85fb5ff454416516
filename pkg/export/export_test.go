package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/HatiCode/lycsurv/pkg/models"
	"github.com/HatiCode/lycsurv/pkg/survival"
)

func TestWritePredictions(t *testing.T) {
	ids := []string{"J0925", "J1011", "J1243"}
	cols := []Column{
		{
			Response: "f_esc(LyC)",
			Predictions: []survival.Prediction{
				{LowerErr: 0.01, Median: 0.05, UpperErr: 0.02},
				{},
				{LowerErr: 0.05, Median: 0.05, UpperErr: 0.1, Flag: -1},
			},
			Valid: []bool{true, false, true},
		},
		{
			Response: "f(LyA)",
			Predictions: []survival.Prediction{
				{LowerErr: 0.1, Median: 0.3, UpperErr: 0.2},
				{LowerErr: 0.1, Median: 0.2, UpperErr: 0.3},
				{LowerErr: 0, Median: 0.9, UpperErr: 0.1, Flag: 1},
			},
		},
	}

	var buf bytes.Buffer
	if err := WritePredictions(&buf, "ID", ids, cols); err != nil {
		t.Fatalf("WritePredictions() error = %v", err)
	}

	want := strings.Join([]string{
		"ID,f_esc(LyC),f_esc(LyC) err-,f_esc(LyC) err+,f_esc(LyC) flag,f(LyA),f(LyA) err-,f(LyA) err+,f(LyA) flag",
		"J0925,0.050000,0.010000,0.020000,0,0.300000,0.100000,0.200000,0",
		"J1011,,,,,0.200000,0.100000,0.300000,0",
		"J1243,0.050000,0.050000,0.100000,-1,0.900000,0.000000,0.100000,1",
	}, "\n") + "\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("WritePredictions() mismatch (-want +got):\n%s", diff)
	}
}

func TestWritePredictions_RowMismatch(t *testing.T) {
	cols := []Column{{Response: "f(LyC)", Predictions: make([]survival.Prediction, 1)}}
	err := WritePredictions(&bytes.Buffer{}, "ID", []string{"a", "b"}, cols)
	if !errors.Is(err, ErrRowMismatch) {
		t.Errorf("WritePredictions() error = %v, want %v", err, ErrRowMismatch)
	}
}

func TestWriteTraining(t *testing.T) {
	var buf bytes.Buffer
	rows := []TrainingRow{
		{Response: "f_esc(LyC)", Row: 0, ID: "a", Observed: 0.1, Predicted: 0.08, Detected: true},
		{Response: "f_esc(LyC)", Row: 3, ID: "d", Observed: 0.02, Predicted: 0.03},
	}
	if err := WriteTraining(&buf, rows); err != nil {
		t.Fatalf("WriteTraining() error = %v", err)
	}
	want := "response,row,id,observed,predicted,detected\n" +
		"f_esc(LyC),0,a,0.100000,0.080000,true\n" +
		"f_esc(LyC),3,d,0.020000,0.030000,false\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("WriteTraining() mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteSummary(t *testing.T) {
	docs := []SummaryDoc{
		{
			RunID:    "0b8e",
			Response: "f_esc(LyC)",
			Method:   models.MethodCoxPH,
			Fit: models.Summary{
				Method:       models.MethodCoxPH,
				Observations: 89,
				Events:       37,
				Coefficients: []models.Coefficient{{Name: "O32", Coef: -0.4, SE: 0.1, P: 0.01}},
			},
			Stats: &models.Stats{R2: 0.5, Concordance: 0.8, Estimator: models.ConcordanceHarrell, N: 37},
		},
		{
			RunID:    "0b8e",
			Response: "f(LyA)",
			Method:   models.MethodCoxPH,
			Fit: models.Summary{
				Method:       models.MethodCoxPH,
				Observations: 60,
				Events:       41,
				Coefficients: []models.Coefficient{{Name: "beta_UV", Coef: 0.7, SE: 0.2, P: 0.001}},
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteSummary(&buf, docs); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "run_id: 0b8e\n") {
		t.Errorf("WriteSummary() output starts with %q", strings.SplitN(out, "\n", 2)[0])
	}
	if n := strings.Count(out, "\n---\n"); n != 1 {
		t.Errorf("document separators = %d, want 1", n)
	}

	got, err := ReadSummary(&buf)
	if err != nil {
		t.Fatalf("ReadSummary() error = %v", err)
	}
	if diff := cmp.Diff(docs, got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}
