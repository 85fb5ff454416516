package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/HatiCode/lycsurv/pkg/httpx"
)

// location is where a source reads its bytes from: a local path or a URL.
type location struct {
	Path       string
	URL        string
	Headers    map[string]string
	HTTPClient *http.Client
}

func (l location) read(ctx context.Context) ([]byte, error) {
	switch {
	case l.URL != "" && l.Path != "":
		return nil, errors.New("catalog: set either path or url, not both")
	case l.URL != "":
		data, err := httpx.Get(ctx, l.HTTPClient, l.URL, l.Headers, 0)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", l.URL, err)
		}
		return data, nil
	case l.Path != "":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("catalog: path or url is required")
	}
}
