package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the rate limiter. A nil *Metrics is
// a valid no-op receiver so services can run without metrics in tests.
type Metrics struct {
	ChecksTotal     *prometheus.CounterVec
	BlocksTriggered prometheus.Counter
	StoreErrors     prometheus.Counter
}

// New creates and registers all rate limiter metrics.
func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultgate_ratelimit_checks_total",
			Help: "Limiter checks by enforcement layer and outcome",
		}, []string{"layer", "outcome"}),
		BlocksTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultgate_ratelimit_blocks_triggered_total",
			Help: "Total number of temporary blocks set by the limiter",
		}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultgate_ratelimit_store_errors_total",
			Help: "Window store failures during limiter checks",
		}),
	}
}

// RecordCheck counts one limiter check outcome.
func (m *Metrics) RecordCheck(layer, outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(layer, outcome).Inc()
}

// RecordBlockTriggered counts a newly set block.
func (m *Metrics) RecordBlockTriggered() {
	if m == nil {
		return
	}
	m.BlocksTriggered.Inc()
}

// RecordStoreError counts a window store failure.
func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
