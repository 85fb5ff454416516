// Package tls builds client TLS configurations for the remote endpoints
// lycsurv talks to: catalog servers over HTTPS and Redis fit stores.
//
// All configurations enforce TLS 1.3 and verify the server against a
// configured CA. A client certificate is presented when one is configured,
// enabling mutual TLS.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds certificate file paths for one client connection.
type Config struct {
	Enabled bool

	// CAFile verifies the server certificate (PEM). Required when enabled.
	CAFile string

	// CertFile and KeyFile are the optional client certificate pair (PEM).
	CertFile string
	KeyFile  string

	// ServerName overrides the name checked against the server certificate.
	ServerName string
}

// Validate reports missing or unreadable files. A disabled config is always
// valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.CAFile == "" {
		return errors.New("tls enabled but ca file not specified")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls client certificate requires both cert and key files")
	}

	for _, path := range []string{c.CAFile, c.CertFile, c.KeyFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("tls file %q: %w", path, err)
		}
	}
	return nil
}

// ClientConfig returns the crypto/tls configuration, or nil when TLS is
// disabled.
func (c Config) ClientConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	caCert, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}

	cfg := &tls.Config{
		RootCAs:    pool,
		ServerName: c.ServerName,
		MinVersion: tls.VersionTLS13,
	}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
