package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/HatiCode/lycsurv/pkg/catalog"
	"github.com/HatiCode/lycsurv/pkg/models"
)

const (
	// DetectionColumn holds the probability that the LyC signal is
	// background.
	DetectionColumn = "P(>N|B)"

	// DefaultDetectionThreshold is the one-sided 2σ probability: LyC rows
	// with P(>N|B) below it count as detections.
	DefaultDetectionThreshold = 0.02275
)

var (
	// ErrMissingPredictorColumn is returned when a listed predictor is not
	// a catalog column.
	ErrMissingPredictorColumn = errors.New("missing predictor column")

	// ErrMissingColumn is returned when another required column is absent.
	ErrMissingColumn = errors.New("missing column")

	// ErrNoRows is returned when every row is dropped.
	ErrNoRows = errors.New("no usable rows")
)

// MissingColumnError names an absent column and its role.
type MissingColumnError struct {
	Column string
	Role   string
}

const rolePredictor = "predictor"

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("catalog has no %s column %q", e.Role, e.Column)
}

func (e *MissingColumnError) Unwrap() error {
	if e.Role == rolePredictor {
		return ErrMissingPredictorColumn
	}
	return ErrMissingColumn
}

// Report accounts for every catalog row offered to Build.
type Report struct {
	Response          Response
	Rows              int
	Kept              int
	MissingPredictors int
	MissingResponse   int
	InvalidWeight     int
	Events            int

	// Reflected counts f_esc(LyA) rows whose non-positive value was replaced
	// by its absolute value. f(LyA) is used as given.
	Reflected int
}

// Dropped returns the number of rows not kept.
func (r Report) Dropped() int { return r.Rows - r.Kept }

// Builder constructs training sets. The zero value is not usable; use
// NewBuilder.
type Builder struct {
	// DetectionThreshold is the P(>N|B) cut for LyC detections.
	DetectionThreshold float64

	// Weighted weights rows by the inverse variance of the response.
	Weighted bool

	logger *slog.Logger
}

// NewBuilder returns a Builder with the default detection threshold.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		DetectionThreshold: DefaultDetectionThreshold,
		logger:             logger.With("component", "features"),
	}
}

// requiredColumns lists the columns Build reads besides predictors.
func (b *Builder) requiredColumns(resp Response) []string {
	cols := []string{string(resp)}
	if resp.Line() == LymanAlpha {
		if resp != EscapeLyA {
			cols = append(cols, string(EscapeLyA))
		}
	} else {
		cols = append(cols, DetectionColumn)
	}
	if b.Weighted {
		cols = append(cols, resp.ErrColumn())
	}
	return cols
}

func checkPredictors(frame *catalog.Frame, predictors []string) error {
	if len(predictors) == 0 {
		return catalog.ErrNoPredictors
	}
	if missing := frame.Missing(predictors...); len(missing) > 0 {
		return &MissingColumnError{Column: missing[0], Role: rolePredictor}
	}
	return nil
}

// Build extracts the training set for resp.
//
// Per row:
//  1. Drop rows with a missing predictor or response value
//  2. Event: LyC P(>N|B) < DetectionThreshold, LyA f_esc(LyA) > 0
//  3. LyA responses that are not positive are replaced by their absolute value
//  4. Weight err⁻² when Weighted, else 1
//  5. Duration 1 - response
//
// Dropped rows are counted in the Report and logged, never silent.
func (b *Builder) Build(frame *catalog.Frame, resp Response, predictors []string) (models.Dataset, Report, error) {
	if _, err := ParseResponse(string(resp)); err != nil {
		return models.Dataset{}, Report{}, err
	}
	if err := checkPredictors(frame, predictors); err != nil {
		return models.Dataset{}, Report{}, err
	}
	for _, col := range b.requiredColumns(resp) {
		if !frame.Has(col) {
			return models.Dataset{}, Report{}, &MissingColumnError{Column: col, Role: "required"}
		}
	}

	ds := models.Dataset{
		Predictors: append([]string(nil), predictors...),
		Reflected:  true,
	}
	if b.Weighted {
		ds.Weights = []float64{}
	}
	rep := Report{Response: resp, Rows: frame.Len()}
	lyA := resp.Line() == LymanAlpha

rows:
	for i := 0; i < frame.Len(); i++ {
		x := make([]float64, len(predictors))
		for j, p := range predictors {
			v := frame.Float(i, p)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				rep.MissingPredictors++
				continue rows
			}
			x[j] = v
		}

		y := frame.Float(i, string(resp))
		if math.IsNaN(y) || math.IsInf(y, 0) {
			rep.MissingResponse++
			continue
		}

		w := 1.0
		if b.Weighted {
			e := frame.Float(i, resp.ErrColumn())
			if !(e > 0) || math.IsInf(e, 0) {
				rep.InvalidWeight++
				continue
			}
			w = 1 / (e * e)
		}

		var event bool
		if lyA {
			event = frame.Float(i, string(EscapeLyA)) > 0
			if resp == EscapeLyA && y <= 0 {
				y = math.Abs(y)
				rep.Reflected++
			}
		} else {
			event = frame.Float(i, DetectionColumn) < b.DetectionThreshold
		}

		ds.X = append(ds.X, x)
		ds.Durations = append(ds.Durations, 1-y)
		ds.Events = append(ds.Events, event)
		ds.Index = append(ds.Index, i)
		if b.Weighted {
			ds.Weights = append(ds.Weights, w)
		}
		if event {
			rep.Events++
		}
	}
	rep.Kept = ds.Len()

	if rep.Dropped() > 0 {
		b.logger.Warn("dropped catalog rows",
			"response", resp,
			"rows", rep.Rows,
			"kept", rep.Kept,
			"missing_predictors", rep.MissingPredictors,
			"missing_response", rep.MissingResponse,
			"invalid_weight", rep.InvalidWeight,
		)
	}
	if rep.Reflected > 0 {
		b.logger.Info("replaced non-positive LyA responses by their absolute value",
			"response", resp, "rows", rep.Reflected)
	}
	if rep.Kept == 0 {
		return models.Dataset{}, rep, fmt.Errorf("%w for %s: %d rows dropped", ErrNoRows, resp, rep.Rows)
	}

	b.logger.Debug("built training set",
		"response", resp, "rows", rep.Kept, "events", rep.Events, "weighted", b.Weighted)
	return ds, rep, nil
}

// Targets is a prediction design matrix over every row of a frame.
type Targets struct {
	// X holds a covariate row per frame row; nil where Valid is false.
	X     [][]float64
	Valid []bool
}

// Len returns the number of frame rows.
func (t Targets) Len() int { return len(t.X) }

// Missing returns the number of rows that cannot be predicted.
func (t Targets) Missing() int {
	n := 0
	for _, ok := range t.Valid {
		if !ok {
			n++
		}
	}
	return n
}

// Rows returns the valid covariate rows and their frame positions.
func (t Targets) Rows() ([][]float64, []int) {
	var x [][]float64
	var idx []int
	for i, ok := range t.Valid {
		if ok {
			x = append(x, t.X[i])
			idx = append(idx, i)
		}
	}
	return x, idx
}

// Targets builds the prediction matrix. Every row is kept so output stays
// aligned with the input; rows with missing predictors are marked invalid.
func (b *Builder) Targets(frame *catalog.Frame, predictors []string) (Targets, error) {
	if err := checkPredictors(frame, predictors); err != nil {
		return Targets{}, err
	}

	t := Targets{X: make([][]float64, frame.Len()), Valid: make([]bool, frame.Len())}
rows:
	for i := 0; i < frame.Len(); i++ {
		x := make([]float64, len(predictors))
		for j, p := range predictors {
			v := frame.Float(i, p)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue rows
			}
			x[j] = v
		}
		t.X[i] = x
		t.Valid[i] = true
	}

	if n := t.Missing(); n > 0 {
		b.logger.Warn("target rows with missing predictors will have empty predictions",
			"rows", frame.Len(), "missing", n)
	}
	return t, nil
}
