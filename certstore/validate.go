package certstore

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

// expiryWarnThreshold is how close to notAfter a still-valid certificate
// starts producing warnings.
const expiryWarnThreshold = 30

// Validate checks that client certificate authentication is enabled, the
// material is on disk, and the leaf certificate's validity window
// contains "now". It fails closed: any missing precondition yields false.
//
// On success it refreshes the persisted Summary and pki.lastValidation.
// A failed validation leaves both untouched.
func (s *Store) Validate() bool {
	if !s.Enabled() {
		s.log.Debugw("certstore: validation skipped, PKI disabled")
		return false
	}

	certPath, keyPath, ok := s.ClientCertFiles()
	if !ok {
		s.log.Warnw("certstore: validation failed, certificate material missing",
			"certPath", certPath, "keyPath", keyPath)
		return false
	}

	cert, err := loadLeafCertificate(certPath)
	if err != nil {
		s.log.Warnw("certstore: validation failed, cannot read leaf certificate",
			"path", certPath, "error", err)
		return false
	}

	now := s.clock.Now()
	notBefore, notAfter := cert.NotBefore.UTC(), cert.NotAfter.UTC()
	if now.Before(notBefore) {
		s.log.Warnw("certstore: certificate not yet valid",
			"notBefore", notBefore, "now", now)
		return false
	}
	if now.After(notAfter) {
		s.log.Warnw("certstore: certificate expired",
			"notAfter", notAfter, "now", now)
		return false
	}

	sum := NewSummary(cert, now)
	s.settings.Set(KeyCertInfo, sum.asMap())
	s.settings.Set(KeyLastValidation, now.Format(time.RFC3339))
	if err := s.settings.Save(); err != nil {
		s.log.Errorw("certstore: persisting validation result failed", "error", err)
	}

	if sum.DaysUntilExpiry <= expiryWarnThreshold {
		s.log.Warnw("certstore: certificate expires soon",
			"daysUntilExpiry", sum.DaysUntilExpiry, "notAfter", notAfter)
	}

	s.log.Infow("certstore: certificate validated",
		"subject", sum.Subject, "daysUntilExpiry", sum.DaysUntilExpiry)
	return true
}

// CheckValidity is the read-only sibling of Validate used for status
// reporting: it never mutates persisted state and explains each failed
// precondition.
func (s *Store) CheckValidity() (bool, []string) {
	var reasons []string

	if !s.Enabled() {
		return false, []string{"client certificate authentication is disabled"}
	}

	certPath, keyPath, ok := s.ClientCertFiles()
	if !ok {
		if certPath == "" || !fileExists(certPath) {
			reasons = append(reasons, "client certificate file is missing")
		}
		if keyPath == "" || !fileExists(keyPath) {
			reasons = append(reasons, "client key file is missing")
		}
		return false, reasons
	}

	cert, err := loadLeafCertificate(certPath)
	if err != nil {
		return false, []string{fmt.Sprintf("leaf certificate unreadable: %v", err)}
	}

	now := s.clock.Now()
	if now.Before(cert.NotBefore.UTC()) {
		return false, []string{"certificate is not yet valid"}
	}
	if now.After(cert.NotAfter.UTC()) {
		return false, []string{"certificate has expired"}
	}
	return true, nil
}

func loadLeafCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate block in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}
