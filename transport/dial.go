package transport

import (
	"fmt"
	"net/url"
	"time"
)

// DialOptions tune the dialers built by NewDialer.
type DialOptions struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // WebSocket pings
	Heartbeat        time.Duration // framed TCP heartbeats
}

// NewDialer picks a dialer from the endpoint scheme: ws:// and wss:// dial a WebSocket bridge,
// tcp:// dials a framed TCP bridge.
func NewDialer(endpoint string, opts DialOptions) (Dialer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return WebSocketDialer{
			URL:              endpoint,
			HandshakeTimeout: opts.HandshakeTimeout,
			PingInterval:     opts.PingInterval,
		}, nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint %q has no host", endpoint)
		}
		return FramedDialer{
			Addr:      u.Host,
			Timeout:   opts.HandshakeTimeout,
			Heartbeat: opts.Heartbeat,
		}, nil
	}
	return nil, fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
}
