package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bus connection and publish counters. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connectAttempts  prometheus.Counter
	connectFailures  prometheus.Counter
	connectionState  prometheus.Gauge
	published        prometheus.Counter
	droppedPublishes prometheus.Counter
	inboundMessages  prometheus.Counter
}

// NewMetrics builds and registers the messaging collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_bus_connect_attempts_total",
			Help: "Bus connection attempts",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_bus_connect_failures_total",
			Help: "Failed bus connection attempts",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airnode_bus_connection_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_bus_publishes_total",
			Help: "Messages published to the bus",
		}),
		droppedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_bus_dropped_publishes_total",
			Help: "Publishes dropped for lack of a connection",
		}),
		inboundMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airnode_bus_inbound_messages_total",
			Help: "Messages received on subscribed topics",
		}),
	}
	reg.MustRegister(
		m.connectAttempts,
		m.connectFailures,
		m.connectionState,
		m.published,
		m.droppedPublishes,
		m.inboundMessages,
	)
	return m
}

func (m *Metrics) attemptsInc() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) failuresInc() {
	if m != nil {
		m.connectFailures.Inc()
	}
}

func (m *Metrics) stateSet(s State) {
	if m != nil {
		m.connectionState.Set(float64(s))
	}
}

func (m *Metrics) publishedInc() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) droppedInc() {
	if m != nil {
		m.droppedPublishes.Inc()
	}
}

func (m *Metrics) inboundInc() {
	if m != nil {
		m.inboundMessages.Inc()
	}
}
