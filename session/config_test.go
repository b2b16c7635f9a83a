package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astraldesk/securehttp/certstore"
	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/session"
	"github.com/astraldesk/securehttp/settings"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func pkiSettings(t *testing.T, enabled bool, withCert, withKey, withCA bool) *settings.FileStore {
	t.Helper()
	dir := t.TempDir()
	st := settings.NewMemStore(nil)
	st.Set(certstore.KeyEnabled, enabled)

	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.pem")
	caPath := filepath.Join(dir, "ca_chain.pem")
	if withCert {
		certPath = touch(t, dir, "client.crt")
	}
	if withKey {
		keyPath = touch(t, dir, "client.pem")
	}
	if withCA {
		caPath = touch(t, dir, "ca_chain.pem")
	}
	st.Set(certstore.KeyClientCertPath, certPath)
	st.Set(certstore.KeyClientKeyPath, keyPath)
	st.Set(certstore.KeyCAChainPath, caPath)
	return st
}

func TestComputeSecurityConfig_Defaults(t *testing.T) {
	st := settings.NewMemStore(nil)
	cfg := session.ComputeSecurityConfig(st, false, logger.Nop())

	assert.Equal(t, session.VerifySystem, cfg.Mode)
	assert.Empty(t, cfg.CAFile)
	assert.False(t, cfg.HasClientCert())
}

func TestComputeSecurityConfig_IgnoreSSLWinsOverPKI(t *testing.T) {
	st := pkiSettings(t, true, true, true, true)
	st.Set(session.KeyIgnoreSSL, true)

	cfg := session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.Equal(t, session.VerifyDisabled, cfg.Mode)
	assert.Empty(t, cfg.CAFile)
	// The client certificate still rides along for mTLS peers.
	assert.True(t, cfg.HasClientCert())
}

func TestComputeSecurityConfig_RuntimeOverride(t *testing.T) {
	st := settings.NewMemStore(nil)

	cfg := session.ComputeSecurityConfig(st, true, logger.Nop())
	assert.Equal(t, session.VerifyDisabled, cfg.Mode)

	// The override is per call, nothing is persisted.
	cfg = session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.Equal(t, session.VerifySystem, cfg.Mode)
	assert.Equal(t, false, st.Get(session.KeyIgnoreSSL, false))
}

func TestComputeSecurityConfig_CustomCA(t *testing.T) {
	st := pkiSettings(t, true, true, true, true)

	cfg := session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.Equal(t, session.VerifyCustomCA, cfg.Mode)
	assert.NotEmpty(t, cfg.CAFile)
	assert.True(t, cfg.HasClientCert())
}

func TestComputeSecurityConfig_MissingCAFallsBackToSystem(t *testing.T) {
	st := pkiSettings(t, true, true, true, false)

	cfg := session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.Equal(t, session.VerifySystem, cfg.Mode)
	assert.Empty(t, cfg.CAFile)
}

func TestComputeSecurityConfig_PKIDisabledIgnoresFiles(t *testing.T) {
	st := pkiSettings(t, false, true, true, true)

	cfg := session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.Equal(t, session.VerifySystem, cfg.Mode)
	assert.False(t, cfg.HasClientCert())
}

func TestComputeSecurityConfig_MissingKeyDropsPair(t *testing.T) {
	st := pkiSettings(t, true, true, false, true)

	cfg := session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.False(t, cfg.HasClientCert())
	assert.Empty(t, cfg.KeyFile)
	assert.Empty(t, cfg.CertFile)
}

func TestComputeSecurityConfig_IsPure(t *testing.T) {
	st := pkiSettings(t, true, true, true, true)

	first := session.ComputeSecurityConfig(st, false, logger.Nop())
	second := session.ComputeSecurityConfig(st, false, logger.Nop())
	assert.Equal(t, first, second)
}
