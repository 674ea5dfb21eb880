package config

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"os"
)

// ServerTLS builds the *tls.Config for the device-facing web server.
// Returns nil, nil when the server runs plain http.
func (c *Config) ServerTLS() (*tls.Config, error) {
	if c.Webserver.Protocol != "https" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.Webserver.SSLCertPath, c.Webserver.SSLKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server cert: %w", err)
	}

	if c.Webserver.CACertPath != "" {
		chainPEM, err := os.ReadFile(c.Webserver.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert chain: %w", err)
		}
		n := 0
		for block, rest := pem.Decode(chainPEM); block != nil; block, rest = pem.Decode(rest) {
			if block.Type == "CERTIFICATE" {
				cert.Certificate = append(cert.Certificate, block.Bytes)
				n++
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("failed to parse CA cert chain")
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
