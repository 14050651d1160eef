// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for connection lifecycle and frame traffic. Every
// Metrics value owns a private registry, so several servers can coexist in
// one process without colliding on the default registerer.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/wsreactor/protocol"
)

const namespace = "wsreactor"

// Metrics implements the server's metrics sink on top of prometheus.
type Metrics struct {
	registry *prometheus.Registry

	active         prometheus.Gauge
	accepted       prometheus.Counter
	acceptErrors   prometheus.Counter
	closed         *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	handshakes     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of connections currently in the connection table.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accepts and registrations.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of removed connections by reason.",
		}, []string{"reason"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames decoded from clients by opcode.",
		}, []string{"opcode"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames encoded for clients by opcode.",
		}, []string{"opcode"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Total number of upgrade handshakes by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.active, m.accepted, m.acceptErrors, m.closed,
		m.framesReceived, m.framesSent, m.handshakes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived(op protocol.Opcode) {
	m.framesReceived.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) FrameSent(op protocol.Opcode) {
	m.framesSent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) HandshakeCompleted(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) ConnectionAccepted() {
	m.accepted.Inc()
	m.active.Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	m.closed.WithLabelValues(reason).Inc()
	m.active.Dec()
}

func (m *Metrics) AcceptFailed() {
	m.acceptErrors.Inc()
}
