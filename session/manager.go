// Package session owns the single pooled HTTP client every outbound call
// of the assistant goes through, and the logic that computes and applies
// its TLS security configuration without disturbing in-flight requests.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/astraldesk/securehttp/foundation/errx"
	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/foundation/validator"
	"github.com/astraldesk/securehttp/settings"
)

// ErrNotConfigured is returned when the session is used before Configure.
// This is a programmer error, not a transient condition.
var ErrNotConfigured = errors.New("session not configured")

// Manager owns the process-wide pooled HTTP client. It is created by the
// application's composition root and injected into callers; there is no
// package-level instance.
//
// Configuration mutations hold mu; requests only read the client pointer
// under it. The security fields travel inside the transport, so a swap
// is one assignment and no reader can observe a verify/cert mismatch.
type Manager struct {
	settings settings.Store
	log      logger.LoggerInterface
	registry *prometheus.Registry
	metrics  *Metrics

	mu         sync.Mutex
	client     *http.Client
	base       *http.Transport
	opts       Options
	applied    SecurityConfig
	hasApplied bool
	closed     bool

	overrideInsecure atomic.Bool
	sf               singleflight.Group
	unsubscribe      func()
}

// NewManager wires the manager to its settings collaborator. It
// subscribes to settings changes and keeps the unsubscribe handle for
// Close, per the explicit-dependency-injection model.
func NewManager(st settings.Store, log logger.LoggerInterface) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		settings: st,
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	m.metrics = newMetrics(m.registry)
	m.unsubscribe = st.OnChange(m.OnSettingsChanged)
	return m
}

// Registry exposes the manager's Prometheus registry for diagnostics.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Metrics exposes the session collectors, mainly for tests and status UIs.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Configure tears down any existing pooled client and builds a fresh one
// with the given options. The security configuration is computed before
// the critical section and applied together with the new pool, closing
// the window between pool creation and security application.
func (m *Manager) Configure(opts Options) error {
	if fields := validator.Validate(opts); len(fields) > 0 {
		return errx.Configuration(nil, fmt.Sprintf("invalid session options: %v", fields))
	}
	opts = opts.withDefaults()

	cfg := m.computeSecurity()
	tlsConf, err := buildTLSConfig(cfg)
	if err != nil {
		return errx.Configuration(err, "build TLS configuration")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errx.Configuration(nil, "session manager is closed")
	}

	if m.base != nil {
		m.base.CloseIdleConnections()
	}

	m.opts = opts
	m.base = newBaseTransport(tlsConf, opts.PoolSize)
	m.client = &http.Client{
		Transport: m.wrapTransport(m.base),
		Timeout:   opts.Timeout,
	}
	m.applied = cfg
	m.hasApplied = true

	m.logSecurityState(cfg)
	m.log.Infow("session: configured",
		"timeout", opts.Timeout, "maxRetries", opts.MaxRetries, "poolSize", opts.PoolSize)
	return nil
}

// ReconfigureSecurity recomputes the security configuration and applies
// it to the live client if it differs from what is already applied.
// Concurrent calls (e.g. a burst of settings notifications) are
// coalesced; redundant calls are no-ops thanks to the dirty-check.
func (m *Manager) ReconfigureSecurity() error {
	_, err, _ := m.sf.Do("reconfigure", func() (any, error) {
		return nil, m.reconfigure()
	})
	return err
}

func (m *Manager) reconfigure() error {
	cfg := m.computeSecurity()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	if m.client == nil {
		// No session yet. Configure recomputes from the same settings,
		// so there is nothing to stash.
		m.log.Debugw("session: reconfiguration requested before Configure, deferred")
		return nil
	}

	if m.hasApplied && cfg == m.applied {
		m.log.Debugw("session: security unchanged, skipping reconfiguration")
		return nil
	}

	tlsConf, err := buildTLSConfig(cfg)
	if err != nil {
		return errx.Configuration(err, "build TLS configuration")
	}

	old := m.base
	m.base = newBaseTransport(tlsConf, m.opts.PoolSize)
	// Verify mode and client certificate travel inside the transport, and
	// the swap replaces the whole client: Do snapshots the client pointer
	// under mu, so in-flight requests keep their old client untouched and
	// never observe a half-applied configuration.
	m.client = &http.Client{
		Transport: m.wrapTransport(m.base),
		Timeout:   m.opts.Timeout,
	}
	m.applied = cfg
	m.hasApplied = true
	if old != nil {
		old.CloseIdleConnections()
	}

	m.metrics.SecurityReconfigures.Inc()
	m.logSecurityState(cfg)
	return nil
}

// OnSettingsChanged filters change notifications down to the keys that
// can affect the security configuration before recomputing.
func (m *Manager) OnSettingsChanged(key string) {
	if !securityRelevant(key) {
		return
	}
	if err := m.ReconfigureSecurity(); err != nil {
		m.log.Errorw("session: reconfiguration after settings change failed",
			"key", key, "error", err)
	}
}

func securityRelevant(key string) bool {
	return strings.HasPrefix(key, "pki.") ||
		key == KeyIgnoreSSL ||
		key == KeyCustomCAPath
}

// SetInsecureOverride toggles the transient ignore-SSL override used
// during connectivity tests. It affects computation only; callers must
// ReconfigureSecurity for it to take effect, and must restore it.
func (m *Manager) SetInsecureOverride(v bool) {
	m.overrideInsecure.Store(v)
}

// RequestOption tweaks a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
	headers map[string]string
}

// WithTimeout overrides the session timeout for this request only.
func WithTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.timeout = d }
}

// WithHeader sets a header on this request.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.headers == nil {
			rc.headers = map[string]string{}
		}
		rc.headers[key] = value
	}
}

// Do issues a request through the shared pooled client. The transport
// retry policy applies; anything beyond it is the caller's concern, and
// transport errors come back unwrapped.
func (m *Manager) Do(ctx context.Context, method, url string, body io.Reader, opts ...RequestOption) (*http.Response, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return nil, errx.Configuration(ErrNotConfigured, "call Configure before Do")
	}

	var rc requestConfig
	for _, o := range opts {
		o(&rc)
	}
	if rc.timeout > 0 {
		// Shallow copy shares the transport and pool.
		c := *client
		c.Timeout = rc.timeout
		client = &c
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range rc.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	m.countRequest(method, resp, err)
	return resp, err
}

func (m *Manager) countRequest(method string, resp *http.Response, err error) {
	status := "error"
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	m.metrics.RequestsTotal.WithLabelValues(method, status).Inc()
}

// Close releases the settings subscription and the connection pool.
// Further use returns ErrNotConfigured.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.base != nil {
		m.base.CloseIdleConnections()
	}
	m.client = nil
	m.base = nil
}

func (m *Manager) computeSecurity() SecurityConfig {
	return ComputeSecurityConfig(m.settings, m.overrideInsecure.Load(), m.log)
}

func (m *Manager) wrapTransport(base http.RoundTripper) http.RoundTripper {
	headers := map[string]string{}
	for k, v := range m.opts.DefaultHeaders {
		headers[k] = v
	}
	if m.opts.UserAgent != "" {
		headers["User-Agent"] = m.opts.UserAgent
	}
	return &retryTransport{
		base:           base,
		headers:        headers,
		maxRetries:     m.opts.MaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		log:            m.log,
		metrics:        m.metrics,
	}
}

func (m *Manager) logSecurityState(cfg SecurityConfig) {
	if cfg.Mode == VerifyDisabled {
		m.log.Warnw("session: server certificate verification is DISABLED",
			"clientCert", cfg.HasClientCert())
		return
	}
	m.log.Infow("session: security applied",
		"verify", cfg.Mode.String(),
		"caFile", cfg.CAFile,
		"clientCert", cfg.HasClientCert())
}

func newBaseTransport(tlsConf *tls.Config, poolSize int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConf,
		MaxIdleConns:          poolSize * 2,
		MaxIdleConnsPerHost:   poolSize,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
