// Package telemetry exposes prometheus metrics for the reliability
// layer: endpoint probing, realtime reconnects and delivery outcomes.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. Construct one per process with New and
// hand it to the packages that record into it; a nil *Metrics is safe
// and records nothing, which keeps tests quiet.
type Metrics struct {
	ProbeAttempts  *prometheus.CounterVec
	ProbeOutcomes  *prometheus.CounterVec
	Reconnects     prometheus.Counter
	RealtimeState  prometheus.Gauge
	Deliveries     *prometheus.CounterVec
	SessionLookups *prometheus.CounterVec
}

// New builds and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astrolink_probe_attempts_total",
			Help: "Candidate endpoint attempts per logical operation.",
		}, []string{"operation"}),
		ProbeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astrolink_probe_outcomes_total",
			Help: "Final probe outcomes per logical operation.",
		}, []string{"operation", "outcome"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "astrolink_realtime_reconnects_total",
			Help: "Realtime reconnect attempts.",
		}),
		RealtimeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "astrolink_realtime_connected",
			Help: "1 while the realtime channel is connected.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astrolink_deliveries_total",
			Help: "Message delivery outcomes per path.",
		}, []string{"path", "outcome"}),
		SessionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "astrolink_session_lookups_total",
			Help: "Session map lookup results.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.ProbeAttempts, m.ProbeOutcomes, m.Reconnects,
		m.RealtimeState, m.Deliveries, m.SessionLookups,
	)
	return m
}

func (m *Metrics) ProbeAttempt(op string) {
	if m == nil {
		return
	}
	m.ProbeAttempts.WithLabelValues(op).Inc()
}

func (m *Metrics) ProbeOutcome(op, outcome string) {
	if m == nil {
		return
	}
	m.ProbeOutcomes.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.RealtimeState.Set(1)
	} else {
		m.RealtimeState.Set(0)
	}
}

func (m *Metrics) Delivery(path, outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) SessionLookup(result string) {
	if m == nil {
		return
	}
	m.SessionLookups.WithLabelValues(result).Inc()
}
