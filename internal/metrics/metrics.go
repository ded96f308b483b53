// Package metrics exposes Prometheus instrumentation for the risk engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the engine and monitor report to. A nil
// *Metrics is valid and records nothing, so tests and the paper mode can run
// without a registry.
type Metrics struct {
	OpenPositions  prometheus.Gauge
	Opens          prometheus.Counter
	Ticks          prometheus.Counter
	Adjustments    *prometheus.CounterVec
	Closes         *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	PersistRetries prometheus.Counter
	TickDuration   prometheus.Histogram
}

// New registers all engine metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeguard",
			Name:      "open_positions",
			Help:      "Number of positions in the active table",
		}),
		Opens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "positions_opened_total",
			Help:      "Total positions opened",
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "ticks_total",
			Help:      "Total per-position evaluation ticks",
		}),
		Adjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "adjustments_total",
			Help:      "Total accepted level adjustments",
		}, []string{"field"}),
		Closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "closes_total",
			Help:      "Total positions closed, labelled by first exit reason",
		}, []string{"reason"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "snapshot_fetch_errors_total",
			Help:      "Snapshot fetch failures, labelled by symbol",
		}, []string{"symbol"}),
		PersistRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeguard",
			Name:      "persistence_retries_total",
			Help:      "Store writes that needed a retry",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradeguard",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one full monitor pass over all symbols",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// SetOpenPositions resets the active-table gauge to an absolute count, used
// when positions are reloaded in bulk at startup. Safe on a nil receiver.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(n))
}

// IncOpen records an opened position. Safe on a nil receiver.
func (m *Metrics) IncOpen() {
	if m == nil {
		return
	}
	m.Opens.Inc()
	m.OpenPositions.Inc()
}

// IncTick records one per-position evaluation. Safe on a nil receiver.
func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	m.Ticks.Inc()
}

// IncAdjustment records one accepted adjustment. Safe on a nil receiver.
func (m *Metrics) IncAdjustment(field string) {
	if m == nil {
		return
	}
	m.Adjustments.WithLabelValues(field).Inc()
}

// IncClose records one close with its leading reason. Safe on a nil receiver.
func (m *Metrics) IncClose(reason string) {
	if m == nil {
		return
	}
	m.Closes.WithLabelValues(reason).Inc()
	m.OpenPositions.Dec()
}

// IncFetchError records one snapshot fetch failure. Safe on a nil receiver.
func (m *Metrics) IncFetchError(symbol string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(symbol).Inc()
}

// IncPersistRetry records one retried store write. Safe on a nil receiver.
func (m *Metrics) IncPersistRetry() {
	if m == nil {
		return
	}
	m.PersistRetries.Inc()
}

// ObserveTickDuration records the duration of a full monitor pass in seconds.
// Safe on a nil receiver.
func (m *Metrics) ObserveTickDuration(seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(seconds)
}
