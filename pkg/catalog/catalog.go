// Package catalog loads tabular galaxy catalogs from CSV or JSON, locally or
// over HTTP, into a common Frame.
//
// Sources are intentionally thin: they parse cells into numbers or strings
// and leave response selection, censoring and weighting to the features
// package.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyCatalog is returned when a source yields no columns.
var ErrEmptyCatalog = errors.New("empty catalog")

// Cell is one catalog value. Text is the cell as written in the source
// (empty when missing) and Num its numeric value, NaN when missing or not a
// number. Identifiers such as SDSS objids or zero-padded names must be read
// from Text; Num cannot represent them exactly.
type Cell struct {
	Text string
	Num  float64
}

// Row is one catalog record keyed by column name.
// Example: {"ID": {"J0925+1403", NaN}, "O32": {"5.2", 5.2}}
type Row map[string]Cell

// missingCell is the value of an empty or NA-style cell.
func missingCell() Cell { return Cell{Num: math.NaN()} }

// Frame is a loaded catalog. Columns keeps the source order.
type Frame struct {
	Columns []string
	Rows    []Row

	// Checksum is the hex SHA-256 of the raw source bytes.
	Checksum string
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Has reports whether col is a column of f.
func (f *Frame) Has(col string) bool {
	for _, c := range f.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Missing returns the columns of cols absent from f, in order.
func (f *Frame) Missing(cols ...string) []string {
	var out []string
	for _, c := range cols {
		if !f.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Float returns the numeric value of row i in col, NaN if the cell is
// missing or not numeric.
func (f *Frame) Float(i int, col string) float64 {
	c, ok := f.Rows[i][col]
	if !ok {
		return math.NaN()
	}
	return c.Num
}

// Text returns the cell of row i in col exactly as the source wrote it,
// trimmed of surrounding space. Missing cells are empty.
func (f *Frame) Text(i int, col string) string {
	return f.Rows[i][col].Text
}

// Source loads a catalog.
//
// Load is synchronous and should respect context cancellation and
// deadlines.
type Source interface {
	Load(ctx context.Context) (*Frame, error)

	// Name returns a short identifier such as "csv" or "json".
	Name() string
}

// parseCell converts a raw text cell. Empty and NA-style cells are missing;
// non-numeric text keeps Num at NaN.
func parseCell(s string) Cell {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "n/a", "null", "--":
		return missingCell()
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Cell{Text: s, Num: v}
	}
	return Cell{Text: s, Num: math.NaN()}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
