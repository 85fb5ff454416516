package catalog

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// JSONSource reads a catalog from a JSON document holding an array of
// objects, one object per row.
//
// Example configuration for a catalog service:
//
//	src := &JSONSource{
//	    URL:      "https://archive.example.org/lzlcs?format=json",
//	    RowsPath: "data.galaxies",
//	}
type JSONSource struct {
	Path       string
	URL        string
	Headers    map[string]string
	HTTPClient *http.Client

	// RowsPath is the gjson path of the row array. Empty means the document
	// root is the array.
	RowsPath string
}

func (s *JSONSource) Name() string { return "json" }

// Load implements Source.
func (s *JSONSource) Load(ctx context.Context) (*Frame, error) {
	data, err := location{Path: s.Path, URL: s.URL, Headers: s.Headers, HTTPClient: s.HTTPClient}.read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data, s.RowsPath)
}

// ParseJSON extracts rows from a JSON document. Columns are the union of
// object keys in first-seen order; a key absent from a row is a missing
// value. Numbers keep their literal text, booleans read as 1 and 0, null is
// missing and strings are parsed like CSV cells.
func ParseJSON(data []byte, rowsPath string) (*Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse json: invalid document")
	}

	var rows gjson.Result
	if rowsPath == "" {
		rows = gjson.ParseBytes(data)
	} else {
		rows = gjson.GetBytes(data, rowsPath)
		if !rows.Exists() {
			return nil, fmt.Errorf("rows path %q not found in document", rowsPath)
		}
	}
	if !rows.IsArray() {
		return nil, fmt.Errorf("rows path %q is not an array", rowsPath)
	}

	frame := &Frame{Checksum: checksum(data)}
	index := make(map[string]bool)
	var parseErr error

	n := 0
	rows.ForEach(func(_, obj gjson.Result) bool {
		if !obj.IsObject() {
			parseErr = fmt.Errorf("row %d is not an object", n)
			return false
		}
		n++
		row := make(Row)
		obj.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			if !index[name] {
				index[name] = true
				frame.Columns = append(frame.Columns, name)
			}
			row[name] = jsonCell(value)
			return true
		})
		frame.Rows = append(frame.Rows, row)
		return true
	})
	if parseErr != nil {
		return nil, fmt.Errorf("parse json: %w", parseErr)
	}
	if len(frame.Columns) == 0 {
		return nil, ErrEmptyCatalog
	}

	for _, row := range frame.Rows {
		for _, col := range frame.Columns {
			if _, ok := row[col]; !ok {
				row[col] = missingCell()
			}
		}
	}
	return frame, nil
}

func jsonCell(v gjson.Result) Cell {
	switch v.Type {
	case gjson.Number:
		return Cell{Text: v.Raw, Num: v.Float()}
	case gjson.True:
		return Cell{Text: "true", Num: 1}
	case gjson.False:
		return Cell{Text: "false", Num: 0}
	case gjson.String:
		return parseCell(v.Str)
	default:
		return missingCell()
	}
}
