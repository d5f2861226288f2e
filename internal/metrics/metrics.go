package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate outcomes. Everything except OutcomeIdentified leaves the request anonymous.
const (
	OutcomeAnonymous        = "anonymous"
	OutcomeIdentified       = "identified"
	OutcomeMalformed        = "malformed"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeExpired          = "expired"
	OutcomeRevoked          = "revoked"
	OutcomeStale            = "stale"
	OutcomeUnknownUser      = "unknown_user"
	OutcomeLookupError      = "lookup_error"
)

// Login results.
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginDisabled           = "disabled"
	LoginError              = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	GateDecisions     *prometheus.CounterVec
	Logins            *prometheus.CounterVec
	Logouts           prometheus.Counter
	RevocationSwept   prometheus.Counter
	RevocationEntries prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idea_auth_gate_decisions_total",
				Help: "Authentication gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idea_auth_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		Logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idea_auth_logouts_total",
			Help: "Logout requests",
		}),
		RevocationSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idea_revocation_swept_total",
			Help: "Revocation entries removed by the periodic sweep",
		}),
		RevocationEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "idea_revocation_entries",
			Help: "Revocation entries held in memory after the last sweep",
		}),
	}

	registry.MustRegister(
		m.GateDecisions,
		m.Logins,
		m.Logouts,
		m.RevocationSwept,
		m.RevocationEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Nil-safe recorders so services and middleware can run without metrics in tests.

func (m *Metrics) RecordGate(outcome string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordLogout() {
	if m == nil {
		return
	}
	m.Logouts.Inc()
}

func (m *Metrics) RecordSweep(removed int, remaining int) {
	if m == nil {
		return
	}
	m.RevocationSwept.Add(float64(removed))
	if remaining >= 0 {
		m.RevocationEntries.Set(float64(remaining))
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
