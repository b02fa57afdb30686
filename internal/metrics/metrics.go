// Package metrics exposes Prometheus instrumentation for the
// signaling core. One Metrics value implements the stats hooks of both
// the event bus and the call coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ringlink/ringlink-server/internal/bus"
	"github.com/ringlink/ringlink-server/internal/signaling"
)

// Metrics bundles every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	callsActive       prometheus.Gauge
	callsTotal        *prometheus.CounterVec
	callsFinished     *prometheus.CounterVec
	signalsRelayed    *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	handlerFailures   *prometheus.CounterVec
}

// New builds and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringlink",
			Name:      "connections_active",
			Help:      "Live transport connections.",
		}),
		callsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringlink",
			Name:      "calls_active",
			Help:      "Call sessions not yet terminal.",
		}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringlink",
			Name:      "calls_total",
			Help:      "Calls initiated, by type.",
		}, []string{"type"}),
		callsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringlink",
			Name:      "calls_finished_total",
			Help:      "Calls reaching a terminal state, by status.",
		}, []string{"status"}),
		signalsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringlink",
			Name:      "signals_relayed_total",
			Help:      "Signaling payloads relayed to connections, by type.",
		}, []string{"signal"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringlink",
			Name:      "events_published_total",
			Help:      "Events published on the in-process bus, by kind.",
		}, []string{"kind"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringlink",
			Name:      "event_handler_failures_total",
			Help:      "Event handler errors and panics, by kind and handler.",
		}, []string{"kind", "handler"}),
	}
	m.registry.MustRegister(
		m.connectionsActive, m.callsActive, m.callsTotal, m.callsFinished,
		m.signalsRelayed, m.eventsPublished, m.handlerFailures,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ConnectionOpened / ConnectionClosed track the live connection gauge.
func (m *Metrics) ConnectionOpened() { m.connectionsActive.Inc() }
func (m *Metrics) ConnectionClosed() { m.connectionsActive.Dec() }

// CallStarted implements signaling.Stats.
func (m *Metrics) CallStarted(callType signaling.CallType) {
	m.callsActive.Inc()
	m.callsTotal.WithLabelValues(string(callType)).Inc()
}

// CallFinished implements signaling.Stats.
func (m *Metrics) CallFinished(status signaling.CallStatus) {
	m.callsActive.Dec()
	m.callsFinished.WithLabelValues(string(status)).Inc()
}

// SignalRelayed implements signaling.Stats.
func (m *Metrics) SignalRelayed(sigType signaling.SignalType) {
	m.signalsRelayed.WithLabelValues(string(sigType)).Inc()
}

// EventPublished implements bus.Stats.
func (m *Metrics) EventPublished(kind bus.Kind) {
	m.eventsPublished.WithLabelValues(string(kind)).Inc()
}

// HandlerFailed implements bus.Stats.
func (m *Metrics) HandlerFailed(kind bus.Kind, handler string) {
	m.handlerFailures.WithLabelValues(string(kind), handler).Inc()
}
