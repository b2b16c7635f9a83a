// Package certstore owns the client-authentication PKI material: it
// imports PKCS#12 bundles, normalizes CA chains of arbitrary encoding
// into PEM, validates certificate lifetimes and persists the resulting
// configuration into the settings store.
package certstore

import (
	"os"
	"path/filepath"

	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/settings"
	"github.com/astraldesk/securehttp/timeutil"
)

// Settings keys owned by this package. The session layer reads them but
// never writes them.
const (
	KeyEnabled        = "pki.enabled"
	KeyClientCertPath = "pki.clientCertPath"
	KeyClientKeyPath  = "pki.clientKeyPath"
	KeyCAChainPath    = "pki.caChainPath"
	KeyP12FileHash    = "pki.p12FileHash"
	KeyLastValidation = "pki.lastValidation"
	KeyCertInfo       = "pki.certificateInfo"
)

// Artifact file names inside the PKI directory.
const (
	clientKeyFile  = "client.pem"
	clientCertFile = "client.crt"
	caChainFile    = "ca_chain.pem"
)

// Store manages the per-user PKI directory and the pki.* settings block.
type Store struct {
	dir      string
	settings settings.Store
	log      logger.LoggerInterface
	clock    timeutil.Clock
}

// New returns a Store rooted at dir. The directory is created lazily on
// first import.
func New(dir string, st settings.Store, log logger.LoggerInterface, clock timeutil.Clock) *Store {
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = timeutil.Default
	}
	return &Store{dir: dir, settings: st, log: log, clock: clock}
}

// Dir returns the PKI directory path.
func (s *Store) Dir() string { return s.dir }

// Enabled reports the persisted pki.enabled flag. The flag is meaningful
// only together with file availability; see ClientCertFiles.
func (s *Store) Enabled() bool {
	return settings.Bool(s.settings, KeyEnabled, false)
}

// ClientCertFiles reports the configured client certificate/key paths
// and whether both files are currently present on disk. A missing file
// is an expected transient state between reconfiguration steps, never an
// error.
func (s *Store) ClientCertFiles() (certPath, keyPath string, ok bool) {
	certPath = settings.String(s.settings, KeyClientCertPath, "")
	keyPath = settings.String(s.settings, KeyClientKeyPath, "")
	ok = certPath != "" && keyPath != "" && fileExists(certPath) && fileExists(keyPath)
	return certPath, keyPath, ok
}

// CAChainFile reports the configured CA chain path and whether the file
// is currently present on disk.
func (s *Store) CAChainFile() (path string, ok bool) {
	path = settings.String(s.settings, KeyCAChainPath, "")
	return path, path != "" && fileExists(path)
}

// Disable flips pki.enabled off and persists. On-disk artifacts are left
// untouched so a later re-enable does not need a fresh import.
func (s *Store) Disable() error {
	s.settings.Set(KeyEnabled, false)
	if err := s.settings.Save(); err != nil {
		return err
	}
	s.log.Infow("certstore: client certificate authentication disabled")
	return nil
}

// RemoveArtifacts deletes the key, certificate and CA chain files from
// the PKI directory. Explicit opt-in; Disable never calls this.
func (s *Store) RemoveArtifacts() error {
	var firstErr error
	for _, name := range []string{clientKeyFile, clientCertFile, caChainFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) keyPath() string   { return filepath.Join(s.dir, clientKeyFile) }
func (s *Store) certPath() string  { return filepath.Join(s.dir, clientCertFile) }
func (s *Store) chainPath() string { return filepath.Join(s.dir, caChainFile) }

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
