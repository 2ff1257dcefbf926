package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	Discoveries      *prometheus.CounterVec
	DirectoryLatency prometheus.Histogram
	HistoryEntries   *prometheus.CounterVec
	LocationUpdates  *prometheus.CounterVec
	RuntimeErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quickassist",
			Name:      "active_sessions",
			Help:      "Authenticated sessions currently open.",
		}),
		Discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quickassist",
			Name:      "discovery_outcomes_total",
			Help:      "Discovery responses by service kind and outcome.",
		}, []string{"kind", "outcome"}),
		DirectoryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quickassist",
			Name:      "directory_query_seconds",
			Help:      "Provider directory query latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		HistoryEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quickassist",
			Name:      "history_entries_total",
			Help:      "History entries recorded by status.",
		}, []string{"status"}),
		LocationUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quickassist",
			Name:      "location_updates_total",
			Help:      "Positioning callbacks by result.",
		}, []string{"result"}),
		RuntimeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quickassist",
			Name:      "runtime_errors_total",
			Help:      "Absorbed runtime errors by code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ActiveSessions,
			m.Discoveries,
			m.DirectoryLatency,
			m.HistoryEntries,
			m.LocationUpdates,
			m.RuntimeErrors,
		)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) discovery(kind, outcome string) {
	if m != nil {
		m.Discoveries.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) directoryLatency(d time.Duration) {
	if m != nil {
		m.DirectoryLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) historyEntry(status string) {
	if m != nil {
		m.HistoryEntries.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) locationUpdate(result string) {
	if m != nil {
		m.LocationUpdates.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) runtimeError(code RuntimeErrorCode) {
	if m != nil {
		m.RuntimeErrors.WithLabelValues(string(code)).Inc()
	}
}
