package authcore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts authentication outcomes and access decisions. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	AuthAttempts    *prometheus.CounterVec
	AccessDecisions *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "auth_attempts_total",
			Help:      "Authentication and credential operations by outcome.",
		}, []string{"operation", "outcome"}),
		AccessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore",
			Name:      "access_decisions_total",
			Help:      "Access guard decisions by operation.",
		}, []string{"operation", "decision"}),
	}
	if reg != nil {
		reg.MustRegister(m.AuthAttempts, m.AccessDecisions)
	}
	return m
}

func (m *Metrics) observeAuth(operation, outcome string) {
	if m == nil || operation == "" {
		return
	}
	m.AuthAttempts.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) observeAccess(operation, decision string) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(operation, decision).Inc()
}
