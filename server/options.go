package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"rpcbridge/metrics"
)

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPingInterval sets the WebSocket keepalive ping interval; zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = d
	}
}

// WithHeartbeat sets the framed TCP heartbeat interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the listed Origin headers. With no
// origins every Origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) == 0 {
			s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
}
