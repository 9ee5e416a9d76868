// Package metrics exposes Prometheus collectors for sessions and realtime traffic.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whiteboard"

// Metrics holds the service collectors.
type Metrics struct {
	liveConnections     prometheus.Gauge
	liveRooms           prometheus.Gauge
	sessionsCreated     *prometheus.CounterVec
	sessionsDeactivated *prometheus.CounterVec
	eventsRelayed       *prometheus.CounterVec
	messagesDropped     prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		liveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Connections currently joined to a session room",
		}),
		liveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_rooms",
			Help:      "Sessions with at least one live connection",
		}),
		sessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created, labelled by whether an inactive one was reactivated",
		}, []string{"result"}),
		sessionsDeactivated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_deactivated_total",
			Help:      "Sessions switched to inactive, labelled by trigger",
		}, []string{"reason"}),
		eventsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Realtime events accepted by the relay",
		}, []string{"event"}),
		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because a recipient buffer was full",
		}),
	}
}

func (m *Metrics) SessionCreated(reactivated bool) {
	if m == nil {
		return
	}
	result := "created"
	if reactivated {
		result = "reactivated"
	}
	m.sessionsCreated.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionDeactivated(reason string) {
	if m == nil {
		return
	}
	m.sessionsDeactivated.WithLabelValues(reason).Inc()
}

// ConnectionJoined records a connection added to a session room.
func (m *Metrics) ConnectionJoined() {
	if m == nil {
		return
	}
	m.liveConnections.Inc()
}

func (m *Metrics) ConnectionLeft() {
	if m == nil {
		return
	}
	m.liveConnections.Dec()
}

// RoomOpened and RoomClosed track session rooms with live connections.
func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.liveRooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.liveRooms.Dec()
}

func (m *Metrics) EventRelayed(event string) {
	if m == nil {
		return
	}
	m.eventsRelayed.WithLabelValues(event).Inc()
}

func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}
