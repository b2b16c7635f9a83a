// Package pki orchestrates certificate setup, disable and connectivity
// flows across the certificate store and the session manager. It never
// lets internal errors escape: every operation reports (success, reason)
// pairs suitable for direct display.
package pki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/astraldesk/securehttp/certstore"
	"github.com/astraldesk/securehttp/foundation/logger"
	"github.com/astraldesk/securehttp/foundation/retry"
	"github.com/astraldesk/securehttp/session"
)

const (
	defaultProbeAttempts = 3
	defaultProbeDelay    = 2 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Coordinator composes the certificate store and the session manager.
type Coordinator struct {
	store *certstore.Store
	mgr   *session.Manager
	log   logger.LoggerInterface

	probeDelay   time.Duration
	probeTimeout time.Duration
}

// Option tunes a Coordinator.
type Option func(*Coordinator)

// WithProbeDelay sets the fixed delay between connectivity attempts.
func WithProbeDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.probeDelay = d }
}

// WithProbeTimeout sets the per-attempt request timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.probeTimeout = d }
}

func NewCoordinator(store *certstore.Store, mgr *session.Manager, log logger.LoggerInterface, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		store:        store,
		mgr:          mgr,
		log:          log,
		probeDelay:   defaultProbeDelay,
		probeTimeout: defaultProbeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Setup imports the PKCS#12 bundle, validates the resulting certificate
// and applies the new security configuration to the live session. It
// short-circuits with a descriptive reason on the first failure.
func (c *Coordinator) Setup(p12Path, password string) (bool, string) {
	if err := c.store.ImportPKCS12(p12Path, password); err != nil {
		c.log.Errorw("pki: certificate import failed", "path", p12Path, "error", err)
		return false, fmt.Sprintf("certificate import failed: %v", err)
	}

	if !c.store.Validate() {
		return false, "imported certificate failed validation (expired, not yet valid, or material missing)"
	}

	if err := c.mgr.ReconfigureSecurity(); err != nil {
		c.log.Errorw("pki: applying security configuration failed", "error", err)
		return false, fmt.Sprintf("session reconfiguration failed: %v", err)
	}

	return true, "client certificate authentication configured"
}

// Disable turns client certificate authentication off and reapplies the
// session security configuration. Artifacts stay on disk.
func (c *Coordinator) Disable() (bool, string) {
	if err := c.store.Disable(); err != nil {
		return false, fmt.Sprintf("disabling failed: %v", err)
	}
	if err := c.mgr.ReconfigureSecurity(); err != nil {
		return false, fmt.Sprintf("session reconfiguration failed: %v", err)
	}
	return true, "client certificate authentication disabled"
}

// TestConnectivity probes url through the shared session, retrying up to
// maxAttempts with a fixed inter-attempt delay. When ignoreSSLOverride
// is set, server verification is disabled for the duration of the test
// and restored afterward even when the probe fails.
//
// Cancellation is cooperative: ctx is honored between attempts.
func (c *Coordinator) TestConnectivity(ctx context.Context, url string, maxAttempts int, ignoreSSLOverride bool) (bool, string) {
	if maxAttempts <= 0 {
		maxAttempts = defaultProbeAttempts
	}

	if ignoreSSLOverride {
		c.mgr.SetInsecureOverride(true)
		if err := c.mgr.ReconfigureSecurity(); err != nil {
			c.mgr.SetInsecureOverride(false)
			return false, fmt.Sprintf("could not apply insecure override: %v", err)
		}
		defer func() {
			c.mgr.SetInsecureOverride(false)
			if err := c.mgr.ReconfigureSecurity(); err != nil {
				c.log.Errorw("pki: restoring security after connectivity test failed", "error", err)
			}
		}()
	}

	attempts := 0
	lastStatus := 0
	err := retry.Fixed(ctx, maxAttempts, c.probeDelay, func() error {
		attempts++
		resp, err := c.mgr.Do(ctx, http.MethodGet, url, nil, session.WithTimeout(c.probeTimeout))
		if err != nil {
			if errors.Is(err, session.ErrNotConfigured) {
				return retry.Permanent(err)
			}
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		lastStatus = resp.StatusCode
		return nil
	})
	if err != nil {
		c.log.Warnw("pki: connectivity test failed",
			"url", url, "attempts", attempts, "error", err)
		return false, fmt.Sprintf("unreachable after %d attempts: %v", attempts, err)
	}

	return true, fmt.Sprintf("reachable (HTTP %d)", lastStatus)
}
