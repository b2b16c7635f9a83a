package certstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// failer is the slice of testing.T these helpers need, kept as an
// interface so the package does not import "testing".
type failer interface {
	Helper()
	Fatalf(string, ...any)
}

// TestPKI holds fixture material generated for a test: a CA, a client
// certificate signed by it, and a PKCS#12 bundle of the pair.
type TestPKI struct {
	Dir      string
	P12Path  string
	Password string

	CACert     *x509.Certificate
	ClientCert *x509.Certificate
	ClientKey  *rsa.PrivateKey
}

// GenerateTestCert creates a self-signed certificate with the given
// validity window. Used directly by chain-normalization tests.
func GenerateTestCert(t failer, cn string, notBefore, notAfter time.Time) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Astraldesk Test"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, key
}

// CreateTestPKI generates a CA plus a CA-signed client certificate and
// writes a password-protected PKCS#12 bundle into dir. notBefore/notAfter
// bound the client certificate's validity.
func CreateTestPKI(t failer, dir, password string, notBefore, notAfter time.Time) TestPKI {
	t.Helper()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Astraldesk Test Root CA", Organization: []string{"Astraldesk Test"}},
		NotBefore:             notBefore.Add(-time.Hour),
		NotAfter:              notAfter.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}

	cliKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	cliTpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "assistant-client", Organization: []string{"Astraldesk Test"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	cliDER, err := x509.CreateCertificate(rand.Reader, cliTpl, caTpl, &cliKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create client certificate: %v", err)
	}
	cliCert, err := x509.ParseCertificate(cliDER)
	if err != nil {
		t.Fatalf("parse client certificate: %v", err)
	}

	pfx, err := pkcs12.Modern.Encode(cliKey, cliCert, []*x509.Certificate{caCert}, password)
	if err != nil {
		t.Fatalf("encode PKCS#12: %v", err)
	}
	p12Path := filepath.Join(dir, "identity.p12")
	if err := os.WriteFile(p12Path, pfx, 0o600); err != nil {
		t.Fatalf("write PKCS#12: %v", err)
	}

	return TestPKI{
		Dir:        dir,
		P12Path:    p12Path,
		Password:   password,
		CACert:     caCert,
		ClientCert: cliCert,
		ClientKey:  cliKey,
	}
}
