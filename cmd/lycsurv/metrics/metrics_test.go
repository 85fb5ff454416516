package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New("coxph")

	m.RecordDropped("f_esc(LyC)", "missing_predictors", 3)
	m.RecordDropped("f_esc(LyC)", "missing_response", 0)
	m.RecordReused("f(LyA)")
	m.RecordPrediction("f_esc(LyC)", 0, false)
	m.RecordPrediction("f_esc(LyC)", 0, false)
	m.RecordPrediction("f_esc(LyC)", -1, false)
	m.RecordPrediction("f_esc(LyC)", 1, true)
	m.SetGoodnessOfFit("f_esc(LyC)", "r2", 0.42)
	m.RecordError("fit", "convergence")

	if got := testutil.ToFloat64(m.RowsDropped.WithLabelValues("f_esc(LyC)", "missing_predictors")); got != 3 {
		t.Errorf("rows dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.FitsReused.WithLabelValues("f(LyA)")); got != 1 {
		t.Errorf("fits reused = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("f_esc(LyC)", "0", "false")); got != 2 {
		t.Errorf("predictions flag 0 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("f_esc(LyC)", "-1", "false")); got != 1 {
		t.Errorf("predictions flag -1 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Predictions.WithLabelValues("f_esc(LyC)", "1", "true")); got != 1 {
		t.Errorf("degenerate predictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GoodnessOfFit.WithLabelValues("f_esc(LyC)", "r2")); got != 0.42 {
		t.Errorf("goodness of fit = %v, want 0.42", got)
	}
	if got := testutil.CollectAndCount(m.RowsDropped); got != 2 {
		t.Errorf("rows dropped series = %d, want 2", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New("coxph"), New("coxph")
	a.RecordError("store", "get_failed")
	if got := testutil.CollectAndCount(b.ErrorsTotal); got != 0 {
		t.Errorf("second registry has %d error series, want 0", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New("weibull")
	m.RecordFit("f(LyC)", 0.25)
	m.RecordLoad(0.01)

	path := filepath.Join(t.TempDir(), "lycsurv.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`lycsurv_fit_seconds_count{method="weibull",response="f(LyC)"} 1`,
		`lycsurv_catalog_load_seconds_count{method="weibull"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
