package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// buildTLSConfig realizes a computed SecurityConfig as a *tls.Config.
// Existence of the referenced files was established during computation;
// a file that fails to parse here is a real error, not a fallback case.
func buildTLSConfig(cfg SecurityConfig) (*tls.Config, error) {
	t := &tls.Config{MinVersion: tls.VersionTLS12}

	switch cfg.Mode {
	case VerifyDisabled:
		t.InsecureSkipVerify = true
	case VerifyCustomCA:
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("session: read CA chain: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, errors.New("session: CA chain file holds no parseable certificate")
		}
		t.RootCAs = pool
	}

	if cfg.HasClientCert() {
		crt, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("session: load client key pair: %w", err)
		}
		t.Certificates = []tls.Certificate{crt}
	}

	return t, nil
}
