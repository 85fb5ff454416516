package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// New creates a source based on kind and a generic configuration map.
//
// Supported kinds:
//   - "csv": keys path | url, comma, headers
//   - "json": keys path | url, rowsPath, headers
//
// headers is a JSON object of extra request headers for URL sources.
// client is used for URL sources and may be nil.
func New(kind string, config map[string]string, client *http.Client) (Source, error) {
	path, url := config["path"], config["url"]
	if path == "" && url == "" {
		return nil, fmt.Errorf("%s catalog requires 'path' or 'url' config", kind)
	}
	if path != "" && url != "" {
		return nil, fmt.Errorf("%s catalog: 'path' and 'url' are mutually exclusive", kind)
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	switch kind {
	case "csv", "":
		var comma rune
		if c := config["comma"]; c != "" {
			if utf8.RuneCountInString(c) != 1 {
				return nil, fmt.Errorf("csv catalog: 'comma' must be a single character, got %q", c)
			}
			comma, _ = utf8.DecodeRuneInString(c)
		}
		return &CSVSource{Path: path, URL: url, Headers: headers, HTTPClient: client, Comma: comma}, nil
	case "json":
		return &JSONSource{Path: path, URL: url, Headers: headers, HTTPClient: client, RowsPath: config["rowsPath"]}, nil
	default:
		return nil, fmt.Errorf("unknown catalog kind: %s (must be csv or json)", kind)
	}
}
