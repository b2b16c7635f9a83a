package certstore_test

import (
	"bytes"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraldesk/securehttp/certstore"
	"github.com/astraldesk/securehttp/foundation/errx"
	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/settings"
)

func newChainStore(t *testing.T) (*certstore.Store, *settings.FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	st := settings.NewMemStore(nil)
	return certstore.New(dir, st, logger.Nop(), nil), st, dir
}

func testCertDER(t *testing.T, cn string) []byte {
	t.Helper()
	cert, _ := certstore.GenerateTestCert(t, cn,
		time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
	return cert.Raw
}

func pemEncode(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func chainFileContents(t *testing.T, dir string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, "ca_chain.pem"))
	require.NoError(t, err)
	return string(raw)
}

func TestImportCAChain_PEM(t *testing.T) {
	s, st, dir := newChainStore(t)

	var buf bytes.Buffer
	for _, cn := range []string{"ca-one", "ca-two", "ca-three"} {
		buf.Write(pemEncode(testCertDER(t, cn)))
	}

	n, err := s.ImportCAChain(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, strings.Count(chainFileContents(t, dir), "BEGIN CERTIFICATE"))
	assert.Equal(t, filepath.Join(dir, "ca_chain.pem"), st.Get("pki.caChainPath", ""))
}

func TestImportCAChain_PEMWithTruncatedBlock(t *testing.T) {
	s, _, dir := newChainStore(t)

	var buf bytes.Buffer
	for _, cn := range []string{"ca-one", "ca-two", "ca-three"} {
		buf.Write(pemEncode(testCertDER(t, cn)))
	}
	// A fourth block cut off mid-body.
	truncated := pemEncode(testCertDER(t, "ca-four"))
	buf.Write(truncated[:len(truncated)/2])

	n, err := s.ImportCAChain(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, strings.Count(chainFileContents(t, dir), "BEGIN CERTIFICATE"))
}

func TestImportCAChain_SingleDER(t *testing.T) {
	s, _, dir := newChainStore(t)

	n, err := s.ImportCAChain(testCertDER(t, "ca-single"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, strings.Count(chainFileContents(t, dir), "BEGIN CERTIFICATE"))
}

func TestImportCAChain_ConcatenatedDER(t *testing.T) {
	s, _, dir := newChainStore(t)

	raw := append(testCertDER(t, "ca-one"), testCertDER(t, "ca-two")...)
	n, err := s.ImportCAChain(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(chainFileContents(t, dir), "BEGIN CERTIFICATE"))
}

func TestImportCAChain_Base64OfConcatenatedDER(t *testing.T) {
	s, _, dir := newChainStore(t)

	raw := append(testCertDER(t, "ca-one"), testCertDER(t, "ca-two")...)
	encoded := base64.StdEncoding.EncodeToString(raw)
	// Wrap lines the way mail clients do.
	var wrapped bytes.Buffer
	for len(encoded) > 0 {
		n := min(64, len(encoded))
		wrapped.WriteString(encoded[:n])
		wrapped.WriteByte('\n')
		encoded = encoded[n:]
	}

	n, err := s.ImportCAChain(wrapped.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(chainFileContents(t, dir), "BEGIN CERTIFICATE"))
}

func TestImportCAChain_Base64OfPEM(t *testing.T) {
	s, _, _ := newChainStore(t)

	encoded := base64.StdEncoding.EncodeToString(pemEncode(testCertDER(t, "ca-one")))
	n, err := s.ImportCAChain([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportCAChain_GarbageFails(t *testing.T) {
	s, st, _ := newChainStore(t)

	_, err := s.ImportCAChain([]byte("this is not a certificate in any encoding ~~~"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.KindParse))
	assert.Equal(t, "", st.Get("pki.caChainPath", ""))
}

func TestImportCAChain_EmptyFails(t *testing.T) {
	s, _, _ := newChainStore(t)

	_, err := s.ImportCAChain(nil)
	assert.True(t, errors.Is(err, errx.KindParse))
}

func TestImportCAChain_DERWithLeadingJunk(t *testing.T) {
	s, _, _ := newChainStore(t)

	raw := append([]byte{0x01, 0x02, 0x30, 0x00}, testCertDER(t, "ca-one")...)
	n, err := s.ImportCAChain(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
