package client

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rpcbridge/codec"
	"rpcbridge/message"
	"rpcbridge/pending"
	"rpcbridge/transport"
)

// route decodes one inbound frame and dispatches it to its pending call:
//
//	malformed / not a response  → drop
//	no pending entry            → drop (stale)
//	kind=error                  → Reject
//	kind=end                    → End for streams, drop for unary calls
//	kind=chunk                  → DispatchChunk for streams, Resolve for unary calls
//
// Whether a call is streaming comes from the chunk handler registered at call start, never
// from anything on the wire. route runs on the read goroutine and completes before the next
// frame is read.
func (c *Client) route(f *transport.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("call handler panicked", zap.Any("panic", r))
		}
	}()

	env, err := decodeFrame(f)
	if err != nil {
		c.metrics.FrameDropped("malformed")
		c.logger.Warn("dropping malformed frame", zap.Stringer("codec", f.Codec), zap.Error(err))
		return
	}
	if env.Type != message.TypeResponse {
		c.metrics.FrameDropped("unexpected")
		c.logger.Warn("dropping non-response frame", zap.String("type", string(env.Type)), zap.String("id", env.ID))
		return
	}

	log := c.logger.With(zap.String("id", env.ID), zap.String("method", env.Method))

	streaming, ok := c.pending.Lookup(env.ID)
	if !ok {
		c.dropStale(log, env, pending.ErrStale)
		return
	}

	switch env.Variant() {
	case message.KindError:
		err = c.pending.Reject(env.ID, &RemoteError{ID: env.ID, Method: env.Method, Message: env.Error})
	case message.KindEnd:
		if !streaming {
			// A unary call's sole answer supersedes any end marker.
			err = pending.ErrNotStreaming
			break
		}
		err = c.pending.End(env.ID)
	default:
		if streaming {
			err = c.pending.DispatchChunk(env.ID, env.Payload)
		} else {
			err = c.pending.Resolve(env.ID, env.Payload)
		}
	}
	if err != nil {
		c.dropStale(log, env, err)
	}
}

func (c *Client) dropStale(log *zap.Logger, env *message.Envelope, reason error) {
	c.metrics.FrameDropped("stale")
	log.Debug("dropping stale response", zap.String("kind", string(env.Variant())), zap.Error(reason))
}

func decodeFrame(f *transport.Frame) (*message.Envelope, error) {
	cdc, err := codec.GetCodec(f.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrMalformed, err)
	}
	var env message.Envelope
	if err := cdc.Decode(f.Body, &env); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// outcome labels a terminal error for metrics.
func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	}
	return "error"
}
