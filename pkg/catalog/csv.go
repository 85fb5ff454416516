package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// CSVSource reads a catalog with a header row from a file or URL.
// Lines starting with '#' are comments.
type CSVSource struct {
	// Path is a local file. Exactly one of Path and URL is set.
	Path string

	// URL is fetched with HTTPClient (a default client if nil).
	URL        string
	Headers    map[string]string
	HTTPClient *http.Client

	// Comma is the field delimiter; ',' if zero.
	Comma rune
}

func (s *CSVSource) Name() string { return "csv" }

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) (*Frame, error) {
	data, err := location{Path: s.Path, URL: s.URL, Headers: s.Headers, HTTPClient: s.HTTPClient}.read(ctx)
	if err != nil {
		return nil, err
	}
	return ParseCSV(data, s.Comma)
}

// ParseCSV parses CSV bytes with a header row. Empty header cells are named
// "column_<i>"; duplicate header names are an error.
func ParseCSV(data []byte, comma rune) (*Frame, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	if comma != 0 {
		r.Comma = comma
	}
	r.Comment = '#'
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCatalog
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv header: %w", err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if h == "" {
			h = "column_" + strconv.Itoa(i)
		}
		if seen[h] {
			return nil, fmt.Errorf("parse csv header: duplicate column %q", h)
		}
		seen[h] = true
		columns[i] = h
	}

	frame := &Frame{Columns: columns, Checksum: checksum(data)}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = parseCell(record[i])
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}
