package certstore

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"os"

	"github.com/astraldesk/securehttp/foundation/errx"
	"github.com/astraldesk/securehttp/foundation/logger"
)

// derSequenceTag marks the start of a DER-encoded certificate.
const derSequenceTag = 0x30

// ImportCAChain normalizes raw CA material into the PEM chain file. The
// input encoding is detected, not declared: PEM blocks first, then a
// single DER certificate, then a scan for concatenated DER certificates,
// and finally one base64-unwrap retry of the whole sequence.
//
// Malformed entries are skipped with a warning; the import fails only
// when not a single certificate survives. Returns the number of
// certificates written.
func (s *Store) ImportCAChain(raw []byte) (int, error) {
	certs, detected := parseCertificates(raw, s.log)
	if len(certs) == 0 {
		if decoded, ok := tryBase64(raw); ok {
			certs, detected = parseCertificates(decoded, s.log)
		}
	}
	if len(certs) == 0 {
		return 0, errx.Parse(nil, "input is not PEM, DER, concatenated DER, or base64 thereof")
	}

	if len(certs) != detected {
		s.log.Warnw("certstore: some CA chain entries were unreadable and skipped",
			"detected", detected, "written", len(certs))
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return 0, errx.Import(err, "create PKI directory")
	}
	ders := make([][]byte, 0, len(certs))
	for _, c := range certs {
		ders = append(ders, c.Raw)
	}
	if err := writePEMFile(s.chainPath(), "CERTIFICATE", ders, 0o644); err != nil {
		return 0, errx.Import(err, "write CA chain")
	}

	s.settings.Set(KeyCAChainPath, s.chainPath())
	if err := s.settings.Save(); err != nil {
		return 0, errx.Import(err, "persist CA chain path")
	}

	s.log.Infow("certstore: CA chain imported", "certificates", len(certs))
	return len(certs), nil
}

// parseCertificates extracts certificates from raw, reporting how many
// candidate entries were detected alongside the ones that parsed.
func parseCertificates(raw []byte, log logger.LoggerInterface) ([]*x509.Certificate, int) {
	// (a) one or more PEM certificates.
	if certs, detected := parsePEMCerts(raw, log); detected > 0 {
		return certs, detected
	}

	// (b) a single DER certificate. ParseCertificate rejects trailing
	// bytes, so concatenated input falls through to the scan.
	if cert, err := x509.ParseCertificate(raw); err == nil {
		return []*x509.Certificate{cert}, 1
	}

	// (c) concatenated DER certificates.
	return scanConcatenatedDER(raw, log)
}

func parsePEMCerts(raw []byte, log logger.LoggerInterface) ([]*x509.Certificate, int) {
	var certs []*x509.Certificate
	detected := 0
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		detected++
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			log.Warnw("certstore: skipping unparseable PEM certificate block", "error", err)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, detected
}

// scanConcatenatedDER walks the input looking for the DER SEQUENCE tag.
// A successful parse advances by the parser-consumed byte length; any
// failure advances exactly one byte, so the loop terminates within
// len(raw) attempts.
func scanConcatenatedDER(raw []byte, log logger.LoggerInterface) ([]*x509.Certificate, int) {
	var certs []*x509.Certificate
	detected := 0
	for off := 0; off < len(raw); {
		if raw[off] != derSequenceTag {
			off++
			continue
		}
		var rv asn1.RawValue
		if _, err := asn1.Unmarshal(raw[off:], &rv); err != nil ||
			rv.Class != asn1.ClassUniversal || rv.Tag != asn1.TagSequence {
			off++
			continue
		}
		detected++
		cert, err := x509.ParseCertificate(rv.FullBytes)
		if err != nil {
			log.Warnw("certstore: skipping unparseable DER certificate candidate",
				"offset", off, "error", err)
			off++
			continue
		}
		certs = append(certs, cert)
		off += len(rv.FullBytes)
	}
	return certs, detected
}

// tryBase64 attempts to unwrap a base64 layer, tolerating surrounding
// whitespace and line breaks.
func tryBase64(raw []byte) ([]byte, bool) {
	compact := bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, raw)
	if len(compact) == 0 {
		return nil, false
	}

	if decoded, err := base64.StdEncoding.DecodeString(string(compact)); err == nil {
		return decoded, true
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(string(compact)); err == nil {
		return decoded, true
	}
	return nil, false
}
