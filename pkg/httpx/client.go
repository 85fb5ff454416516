// Package httpx provides the HTTP client used to fetch remote catalogs.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lycsurvtls "github.com/HatiCode/lycsurv/pkg/tls"
)

// DefaultMaxBodyBytes caps downloaded catalogs.
const DefaultMaxBodyBytes = 64 << 20

// NewClient creates an HTTP client with optional mTLS support.
// If tlsCfg.Enabled is false, returns a standard HTTP client.
func NewClient(tlsCfg lycsurvtls.Config, timeout time.Duration) (*http.Client, error) {
	cryptoTLSConfig, err := tlsCfg.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("create TLS config: %w", err)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig:     cryptoTLSConfig,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// Get fetches url and returns the response body. Non-200 responses are
// errors carrying the start of the body. Bodies larger than maxBytes are
// rejected; maxBytes <= 0 selects DefaultMaxBodyBytes.
func Get(ctx context.Context, client *http.Client, url string, headers map[string]string, maxBytes int64) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("response larger than %d bytes", maxBytes)
	}
	return body, nil
}
