package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the enforcement pipeline. A nil
// *Metrics is a valid no-op receiver.
type Metrics struct {
	DecisionsTotal  *prometheus.CounterVec
	RiskLevelsTotal *prometheus.CounterVec
	FailOpenTotal   prometheus.Counter
}

// New creates and registers all enforcement metrics.
func New() *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultgate_decisions_total",
			Help: "Enforcement verdicts by account class and outcome",
		}, []string{"class", "outcome"}),
		RiskLevelsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultgate_risk_levels_total",
			Help: "Risk assessments by resulting level",
		}, []string{"level"}),
		FailOpenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultgate_fail_open_total",
			Help: "Requests admitted without a limiter verdict because the window store failed",
		}),
	}
}

// RecordDecision counts one enforcement verdict.
func (m *Metrics) RecordDecision(class, outcome string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(class, outcome).Inc()
}

// RecordRiskLevel counts one risk assessment by level.
func (m *Metrics) RecordRiskLevel(level string) {
	if m == nil {
		return
	}
	m.RiskLevelsTotal.WithLabelValues(level).Inc()
}

// RecordFailOpen counts a fail-open admission.
func (m *Metrics) RecordFailOpen() {
	if m == nil {
		return
	}
	m.FailOpenTotal.Inc()
}
