package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoPredictors is returned for a predictor list without names.
var ErrNoPredictors = errors.New("no predictors listed")

// ReadPredictors reads a predictor list file.
func ReadPredictors(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open predictor list: %w", err)
	}
	defer f.Close()

	names, err := ParsePredictors(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return names, nil
}

// ParsePredictors reads one column name per line. Blank lines and lines
// starting with '#' are skipped; names are trimmed and must be unique.
func ParsePredictors(r io.Reader) ([]string, error) {
	var names []string
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("line %d: predictor %q already listed on line %d", line, name, prev)
		}
		seen[name] = line
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoPredictors
	}
	return names, nil
}
