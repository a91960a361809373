// Package metrics exposes Prometheus collectors for the bridge client and server.
//
// All methods are safe on a nil receiver so instrumented code never has to check whether
// metrics were configured.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rpcbridge"

// Client counts calls and dropped frames on one multiplexed connection.
type Client struct {
	callsStarted  *prometheus.CounterVec
	callsFinished *prometheus.CounterVec
	pending       prometheus.Gauge
	dropped       *prometheus.CounterVec
}

// NewClient creates client collectors and registers them with reg when it is non-nil.
func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "client", Name: "calls_started_total",
			Help: "Calls sent, by kind (unary, stream).",
		}, []string{"kind"}),
		callsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "client", Name: "calls_finished_total",
			Help: "Calls that reached a terminal state, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "client", Name: "pending_calls",
			Help: "Calls registered and not yet terminal.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "client", Name: "dropped_frames_total",
			Help: "Inbound frames dropped by the router, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.callsStarted, m.callsFinished, m.pending, m.dropped)
	}
	return m
}

func (m *Client) CallStarted(kind string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(kind).Inc()
	m.pending.Inc()
}

// CallFinished records a terminal outcome: ok, remote_error, closed, cancelled or send_failed.
func (m *Client) CallFinished(kind, outcome string) {
	if m == nil {
		return
	}
	m.callsFinished.WithLabelValues(kind, outcome).Inc()
	m.pending.Dec()
}

// FrameDropped records a frame the router discarded: stale, malformed or unexpected.
func (m *Client) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Server counts requests handled by the bridge server.
type Server struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
}

// NewServer creates server collectors and registers them with reg when it is non-nil.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "requests_total",
			Help: "Requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "server", Name: "request_duration_seconds",
			Help:    "Time from request decode to final response, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "open_connections",
			Help: "Client connections currently served.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.connections)
	}
	return m
}

func (m *Server) RequestDone(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Server) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Server) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
