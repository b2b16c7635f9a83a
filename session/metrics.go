package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the session's Prometheus collectors. All counters are
// registered on the manager's registry at construction.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RetriesTotal         prometheus.Counter
	SecurityReconfigures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "securehttp_requests_total",
			Help: "Requests issued through the shared session, by method and status class.",
		}, []string{"method", "status"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securehttp_request_retries_total",
			Help: "Transport-level retries on retryable statuses or network errors.",
		}),
		SecurityReconfigures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "securehttp_security_reconfigures_total",
			Help: "Times the live session's TLS configuration was actually swapped.",
		}),
	}

	registerCollector(reg, m.RequestsTotal)
	registerCollector(reg, m.RetriesTotal)
	registerCollector(reg, m.SecurityReconfigures)
	return m
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
	}
}
