// Package transport carries encoded envelopes over a single duplex connection.
//
// A Transport moves whole application messages: it owns any framing below the envelope
// boundary (WebSocket messages, or the protocol package's length-prefixed frames on TCP) and
// nothing above it. The multiplexing client sees only three operations:
//
//	ReadFrame   blocks for the next inbound message; one reader goroutine per transport
//	WriteFrame  sends one message; safe for concurrent callers
//	Close       tears the connection down; unblocks a pending ReadFrame
package transport

import (
	"context"

	"rpcbridge/codec"
)

// Frame is one application message together with the codec its body is encoded in.
type Frame struct {
	Codec codec.CodecType
	Body  []byte
}

// Transport is a connected duplex message stream.
type Transport interface {
	// ReadFrame returns the next inbound frame. It returns io.EOF after a clean close.
	ReadFrame() (*Frame, error)
	// WriteFrame writes f atomically with respect to other writers.
	WriteFrame(f *Frame) error
	Close() error
}

// Dialer establishes a Transport.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context) (Transport, error)

func (f DialFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
