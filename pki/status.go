package pki

import (
	"context"
	"errors"
	"net/http"

	"github.com/astraldesk/securehttp/certstore"
	"github.com/astraldesk/securehttp/metrics"
)

// Status is the caller-facing view of the PKI subsystem.
type Status struct {
	Enabled    bool
	Configured bool
	Valid      bool
	Summary    *certstore.Summary
	Warnings   []string
	Errors     []string
}

// Status reports the current PKI state without mutating anything: file
// availability and certificate lifetime are checked read-only, and the
// last persisted summary is attached when one exists.
func (c *Coordinator) Status() Status {
	st := Status{Enabled: c.store.Enabled()}

	_, _, filesOK := c.store.ClientCertFiles()
	st.Configured = filesOK

	if sum, ok := c.store.Summary(); ok {
		st.Summary = &sum
	}

	if !st.Enabled {
		return st
	}

	valid, reasons := c.store.CheckValidity()
	st.Valid = valid
	if !valid {
		st.Errors = append(st.Errors, reasons...)
		return st
	}

	if st.Summary != nil && st.Summary.DaysUntilExpiry <= 30 {
		st.Warnings = append(st.Warnings, "certificate expires within 30 days")
	}
	if _, ok := c.store.CAChainFile(); !ok {
		st.Warnings = append(st.Warnings, "no CA chain file; server verification uses the system trust store")
	}
	return st
}

// DiagnosticsHandler serves the session's Prometheus collectors and a
// health probe that fails when PKI is enabled but invalid.
func (c *Coordinator) DiagnosticsHandler() http.Handler {
	h, _ := metrics.New(metrics.Options{
		Registry: c.mgr.Registry(),
		Health: func(_ context.Context, _ *http.Request) error {
			if !c.store.Enabled() {
				return nil
			}
			if valid, reasons := c.store.CheckValidity(); !valid {
				if len(reasons) > 0 {
					return errors.New(reasons[0])
				}
				return errors.New("client certificate invalid")
			}
			return nil
		},
	})
	return h
}
