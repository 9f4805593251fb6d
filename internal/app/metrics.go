package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the server collectors. A nil *Metrics records nothing.
type Metrics struct {
	online          prometheus.Gauge
	groups          prometheus.Gauge
	sessions        *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	historyFailures prometheus.Counter
	callSignals     *prometheus.CounterVec
	frameErrors     *prometheus.CounterVec
	routeLatency    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatline_connections_online",
			Help: "Identities currently connected.",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatline_groups",
			Help: "Groups known to the directory.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_sessions_total",
			Help: "Session handshakes grouped by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_deliveries_total",
			Help: "Frames written to recipients grouped by payload kind and result.",
		}, []string{"kind", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_dropped_total",
			Help: "Payloads not delivered grouped by reason.",
		}, []string{"reason"}),
		historyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_history_failures_total",
			Help: "Messages the history store failed to persist.",
		}),
		callSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_call_signals_total",
			Help: "Call signals grouped by type and outcome.",
		}, []string{"type", "outcome"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatline_frame_errors_total",
			Help: "Inbound frames ignored grouped by reason.",
		}, []string{"code"}),
		routeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatline_route_latency_seconds",
			Help:    "Time spent persisting and delivering one payload.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.online,
		m.groups,
		m.sessions,
		m.deliveries,
		m.dropped,
		m.historyFailures,
		m.callSignals,
		m.frameErrors,
		m.routeLatency,
	)
	return m
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *Metrics) SetGroups(n int) {
	if m == nil {
		return
	}
	m.groups.Set(float64(n))
}

func (m *Metrics) RecordSession(result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(orUnknown(result)).Inc()
}

func (m *Metrics) RecordDelivery(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(orUnknown(kind), result).Inc()
}

func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(orUnknown(reason)).Inc()
}

func (m *Metrics) RecordHistoryFailure() {
	if m == nil {
		return
	}
	m.historyFailures.Inc()
}

func (m *Metrics) RecordCallSignal(signalType, outcome string) {
	if m == nil {
		return
	}
	m.callSignals.WithLabelValues(orUnknown(signalType), orUnknown(outcome)).Inc()
}

func (m *Metrics) RecordFrameError(code string) {
	if m == nil {
		return
	}
	m.frameErrors.WithLabelValues(orUnknown(code)).Inc()
}

func (m *Metrics) ObserveRoute(op string, dur time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.routeLatency.WithLabelValues(op).Observe(dur.Seconds())
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
