package certstore

import (
	"crypto/x509"
	"encoding/pem"
	"os"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/astraldesk/securehttp/foundation/errx"
	"github.com/astraldesk/securehttp/foundation/hash"
)

// ImportPKCS12 decodes the password-protected container at path and
// materializes its contents into the PKI directory: the private key as
// unencrypted PKCS#8 PEM, the leaf certificate as PEM, and any
// intermediates concatenated into the CA chain file.
//
// The import is all-or-nothing: any failure removes every artifact
// written during this attempt before returning.
func (s *Store) ImportPKCS12(path, password string) (err error) {
	raw, rerr := os.ReadFile(path)
	if rerr != nil {
		return errx.Import(rerr, "read PKCS#12 file")
	}

	key, leaf, intermediates, derr := pkcs12.DecodeChain(raw, password)
	if derr != nil {
		return errx.Import(derr, "decode PKCS#12 container")
	}
	if key == nil || leaf == nil {
		return errx.Import(nil, "container holds no private key and certificate pair")
	}

	if merr := os.MkdirAll(s.dir, 0o700); merr != nil {
		return errx.Import(merr, "create PKI directory")
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, p := range written {
			if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Warnw("certstore: cleanup after failed import", "path", p, "error", rmErr)
			}
		}
	}()

	keyDER, kerr := x509.MarshalPKCS8PrivateKey(key)
	if kerr != nil {
		return errx.Import(kerr, "serialize private key to PKCS#8")
	}
	if werr := writePEMFile(s.keyPath(), "PRIVATE KEY", [][]byte{keyDER}, 0o600); werr != nil {
		return errx.Import(werr, "write private key")
	}
	written = append(written, s.keyPath())

	if werr := writePEMFile(s.certPath(), "CERTIFICATE", [][]byte{leaf.Raw}, 0o644); werr != nil {
		return errx.Import(werr, "write leaf certificate")
	}
	written = append(written, s.certPath())

	if len(intermediates) > 0 {
		ders := make([][]byte, 0, len(intermediates))
		for _, c := range intermediates {
			ders = append(ders, c.Raw)
		}
		if werr := writePEMFile(s.chainPath(), "CERTIFICATE", ders, 0o644); werr != nil {
			return errx.Import(werr, "write CA chain")
		}
		written = append(written, s.chainPath())
	}

	s.settings.Set(KeyEnabled, true)
	s.settings.Set(KeyClientCertPath, s.certPath())
	s.settings.Set(KeyClientKeyPath, s.keyPath())
	if len(intermediates) > 0 {
		s.settings.Set(KeyCAChainPath, s.chainPath())
	} else {
		// The new identity carries no chain; a leftover chain file from a
		// previous bundle must not keep pinning server trust to its CA.
		if rmErr := os.Remove(s.chainPath()); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warnw("certstore: removing stale CA chain", "path", s.chainPath(), "error", rmErr)
		}
		s.settings.Set(KeyCAChainPath, "")
	}
	s.settings.Set(KeyP12FileHash, hash.SumBytes(raw))
	if serr := s.settings.Save(); serr != nil {
		return errx.Import(serr, "persist PKI configuration")
	}

	s.log.Infow("certstore: PKCS#12 imported",
		"subject", leaf.Subject.String(),
		"intermediates", len(intermediates))
	return nil
}

func writePEMFile(path, blockType string, ders [][]byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	for _, der := range ders {
		if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
