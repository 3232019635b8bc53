// Package metrics holds the Prometheus collectors of the protocol engine.
//
// A nil *Metrics is valid and records nothing, so packages can take one
// without checking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcproto"

type Metrics struct {
	packets     *prometheus.CounterVec
	faults      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	frameBytes  *prometheus.HistogramVec
	conns       prometheus.Gauge
	accepted    prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets by direction, state and what happened to them.",
		}, []string{"direction", "state", "outcome"}),

		faults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Pipeline faults by kind and outcome.",
		}, []string{"kind", "outcome"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions.",
		}, []string{"from", "to"}),

		frameBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of frames on the wire.",
			Buckets:   prometheus.ExponentialBuckets(8, 4, 9),
		}, []string{"direction"}),

		conns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open connections.",
		}),

		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Accepted connections.",
		}),
	}
}

// Packet counts one packet. Outcome is one of "dispatched", "dropped" or
// "sent".
func (m *Metrics) Packet(direction, state, outcome string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(direction, state, outcome).Inc()
}

func (m *Metrics) Fault(kind, outcome string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Frame(direction string, size int) {
	if m == nil {
		return
	}
	m.frameBytes.WithLabelValues(direction).Observe(float64(size))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.conns.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.conns.Dec()
}
