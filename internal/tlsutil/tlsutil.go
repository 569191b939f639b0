// Package tlsutil holds the process-wide TLS client configuration.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
)

// Options controls how the shared configuration is built.
type Options struct {
	// Insecure disables certificate verification (testing only).
	Insecure bool
	// CAFile adds PEM certificates to the system roots.
	CAFile string
}

var (
	mu      sync.RWMutex
	current *tls.Config
)

// Init builds the shared client configuration.
func Init(opts Options) error {
	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return fmt.Errorf("read CA file: %w", err)
		}
		if !roots.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
	}

	cfg := &tls.Config{
		RootCAs:            roots,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.Insecure, //nolint:gosec // G402: opt-in via --insecure
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

// Config returns a copy of the shared configuration, or nil before Init.
func Config() *tls.Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return nil
	}
	return current.Clone()
}

// Reset drops the shared configuration.
func Reset() {
	mu.Lock()
	current = nil
	mu.Unlock()
}
