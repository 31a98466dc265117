package api

import (
	"crypto/tls"
	"fmt"
)

// TLSConfig holds certificate paths. TLS is enabled only when both are set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Enabled returns true if TLS is configured. Safe on a nil receiver.
func (c *TLSConfig) Enabled() bool {
	return c != nil && c.CertFile != "" && c.KeyFile != ""
}

// Load reads the key pair.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
