// Package export writes prediction tables, training diagnostics and fit
// summaries.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/lycsurv/pkg/models"
	"github.com/HatiCode/lycsurv/pkg/survival"
)

// ErrRowMismatch is returned when a column does not cover every row.
var ErrRowMismatch = errors.New("column length does not match row count")

// Column is the prediction of one response for every output row.
type Column struct {
	Response    string
	Predictions []survival.Prediction

	// Valid marks rows with a prediction. A nil Valid means every row.
	Valid []bool
}

func (c Column) valid(i int) bool { return c.Valid == nil || c.Valid[i] }

// PredictionHeader returns the four column names written for response.
func PredictionHeader(response string) []string {
	return []string{response, response + " err-", response + " err+", response + " flag"}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// WritePredictions writes one row per id: the id followed by median,
// lower and upper uncertainty and flag for each column. Rows keep the
// order of ids; rows that could not be predicted get empty cells.
func WritePredictions(w io.Writer, idColumn string, ids []string, cols []Column) error {
	for _, c := range cols {
		if len(c.Predictions) != len(ids) || (c.Valid != nil && len(c.Valid) != len(ids)) {
			return fmt.Errorf("%w: %s has %d predictions for %d rows", ErrRowMismatch, c.Response, len(c.Predictions), len(ids))
		}
	}

	cw := csv.NewWriter(w)
	header := []string{idColumn}
	for _, c := range cols {
		header = append(header, PredictionHeader(c.Response)...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i, id := range ids {
		record[0] = id
		for j, c := range cols {
			cells := record[1+4*j : 5+4*j]
			if !c.valid(i) {
				clear(cells)
				continue
			}
			p := c.Predictions[i]
			cells[0] = formatFloat(p.Median)
			cells[1] = formatFloat(p.LowerErr)
			cells[2] = formatFloat(p.UpperErr)
			cells[3] = strconv.Itoa(p.Flag)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// TrainingRow compares an observed response with its in-sample prediction.
type TrainingRow struct {
	Response  string
	Row       int
	ID        string
	Observed  float64
	Predicted float64
	Detected  bool
}

// WriteTraining writes training rows in long format.
func WriteTraining(w io.Writer, rows []TrainingRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"response", "row", "id", "observed", "predicted", "detected"}); err != nil {
		return err
	}
	for _, r := range rows {
		err := cw.Write([]string{
			r.Response,
			strconv.Itoa(r.Row),
			r.ID,
			formatFloat(r.Observed),
			formatFloat(r.Predicted),
			strconv.FormatBool(r.Detected),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SummaryDoc is one fitted response in the summary file.
type SummaryDoc struct {
	RunID    string         `yaml:"run_id"`
	Response string         `yaml:"response"`
	Method   string         `yaml:"method"`
	Fit      models.Summary `yaml:"fit"`
	Stats    *models.Stats  `yaml:"stats,omitempty"`
}

// WriteSummary writes each doc as its own YAML document, one per response.
func WriteSummary(w io.Writer, docs []SummaryDoc) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode summary %s: %w", doc.Response, err)
		}
	}
	return enc.Close()
}

// ReadSummary decodes the documents written by WriteSummary.
func ReadSummary(r io.Reader) ([]SummaryDoc, error) {
	dec := yaml.NewDecoder(r)
	var docs []SummaryDoc
	for {
		var doc SummaryDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		docs = append(docs, doc)
	}
}
