package client

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpcbridge/codec"
	"rpcbridge/metrics"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for lifecycle events and router diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCodec selects the encoding of outbound requests. Inbound frames are decoded with the
// codec they arrive in.
func WithCodec(t codec.CodecType) Option {
	return func(c *Client) {
		c.codecType = t
	}
}

// WithIDPrefix sets the prefix of correlation ids ("req" by default).
func WithIDPrefix(prefix string) Option {
	return func(c *Client) {
		if prefix != "" {
			c.idPrefix = prefix
		}
	}
}

// WithUniqueIDPrefix namespaces correlation ids with a random UUID. Use it when several
// logical clients share one bridge connection.
func WithUniqueIDPrefix() Option {
	return func(c *Client) {
		c.idPrefix = uuid.NewString()
	}
}

// WithMetrics records call and router counters.
func WithMetrics(m *metrics.Client) Option {
	return func(c *Client) {
		c.metrics = m
	}
}
