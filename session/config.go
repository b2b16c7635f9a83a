package session

import (
	"os"
	"time"

	"github.com/astraldesk/securehttp/certstore"
	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/settings"
)

// Settings keys consumed (never written) by this package.
const (
	KeyIgnoreSSL    = "advanced.ignoreSslVerification"
	KeyCustomCAPath = "advanced.customCaPath"
)

// VerifyMode says how server certificates are checked.
type VerifyMode int

const (
	// VerifySystem uses the operating system trust store.
	VerifySystem VerifyMode = iota
	// VerifyDisabled skips server certificate verification entirely.
	VerifyDisabled
	// VerifyCustomCA pins verification to the imported CA chain file.
	VerifyCustomCA
)

func (m VerifyMode) String() string {
	switch m {
	case VerifyDisabled:
		return "disabled"
	case VerifyCustomCA:
		return "custom-ca"
	default:
		return "system"
	}
}

// SecurityConfig is the computed TLS posture of the shared session. It is
// a pure function of persisted settings, the transient insecure override,
// and file existence; it is never persisted itself. Comparable by ==,
// which is what the dirty-check relies on.
type SecurityConfig struct {
	Mode   VerifyMode
	CAFile string

	// CertFile/KeyFile are both set or both empty.
	CertFile string
	KeyFile  string
}

// HasClientCert reports whether a client certificate pair is part of the
// configuration.
func (c SecurityConfig) HasClientCert() bool { return c.CertFile != "" }

// ComputeSecurityConfig derives the security posture from the settings
// store. overrideInsecure is the short-lived connectivity-test override;
// it is honored for this call only and never persisted.
//
// The function has no side effects beyond logging: calling it twice with
// unchanged settings and files yields identical results.
func ComputeSecurityConfig(st settings.Store, overrideInsecure bool, log logger.LoggerInterface) SecurityConfig {
	if log == nil {
		log = logger.Nop()
	}

	ignoreSSL := settings.Bool(st, KeyIgnoreSSL, false) || overrideInsecure

	enabled := settings.Bool(st, certstore.KeyEnabled, false)
	certPath := settings.String(st, certstore.KeyClientCertPath, "")
	keyPath := settings.String(st, certstore.KeyClientKeyPath, "")
	caPath := settings.String(st, certstore.KeyCAChainPath, "")

	var cfg SecurityConfig
	switch {
	case ignoreSSL:
		cfg.Mode = VerifyDisabled
	case enabled && caPath != "" && fileExists(caPath):
		cfg.Mode = VerifyCustomCA
		cfg.CAFile = caPath
	default:
		cfg.Mode = VerifySystem
	}

	if enabled && certPath != "" && keyPath != "" {
		certOK, keyOK := fileExists(certPath), fileExists(keyPath)
		if certOK && keyOK {
			cfg.CertFile = certPath
			cfg.KeyFile = keyPath
		} else {
			var missing []string
			if !certOK {
				missing = append(missing, certPath)
			}
			if !keyOK {
				missing = append(missing, keyPath)
			}
			log.Warnw("session: client certificate configured but files are missing",
				"missing", missing)
		}
	}

	return cfg
}

// Options configures the pooled HTTP client.
type Options struct {
	// Timeout bounds each request end to end. Zero means DefaultTimeout.
	Timeout time.Duration `validate:"gte=0"`
	// MaxRetries bounds transport-level retries on retryable statuses.
	// Zero means DefaultMaxRetries; negative disables retries.
	MaxRetries int `validate:"gte=-1,lte=10"`
	// PoolSize caps idle connections kept per host.
	PoolSize int `validate:"gte=0,lte=512"`
	// UserAgent is sent when the caller did not set one.
	UserAgent string
	// DefaultHeaders are installed on every request that does not
	// already carry the header.
	DefaultHeaders map[string]string
}

const (
	DefaultTimeout    = 60 * time.Second
	minTimeout        = 1 * time.Second
	DefaultMaxRetries = 3
	DefaultPoolSize   = 10

	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 8 * time.Second
)

func (o Options) withDefaults() Options {
	o.Timeout = clampTimeout(o.Timeout, minTimeout, DefaultTimeout)
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.PoolSize == 0 {
		o.PoolSize = DefaultPoolSize
	}
	return o
}

func clampTimeout(d, min, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	if d < min {
		return min
	}
	return d
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
