// Package client implements the multiplexing bridge client.
//
// One Client turns a single duplex connection into many concurrent logical calls. Each call is
// registered under a fresh correlation id before its request is written, and a single read
// goroutine routes every response back to the call it names:
//
//	goroutine-1 ──Go(id=req_1)──────┐
//	goroutine-2 ──Stream(id=req_2)──┼──→ one connection ──→ bridge
//	goroutine-3 ──Go(id=req_3)──────┘
//
//	read loop: ←── chunk(req_2) → OnChunk ←── reply(req_3) → Call.Done ←── end(req_2) → OnEnd
//
// Unary calls settle exactly once through Call.Done. Streaming calls receive zero or more
// chunks and then exactly one of OnEnd or OnError. When the connection drops every pending
// call fails with ErrConnectionClosed.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"rpcbridge/codec"
	"rpcbridge/message"
	"rpcbridge/metrics"
	"rpcbridge/pending"
	"rpcbridge/transport"
)

const (
	kindUnary  = "unary"
	kindStream = "stream"
)

// Client is safe for concurrent use.
type Client struct {
	conn      *Conn
	pending   *pending.Registry
	codecType codec.CodecType
	idPrefix  string
	seq       atomic.Uint64 // Monotonically increasing, never reused
	logger    *zap.Logger
	metrics   *metrics.Client
	drained   chan struct{} // Closed after the last pending call has been failed
}

// New returns an idle client that will dial d on Connect.
func New(d transport.Dialer, opts ...Option) *Client {
	c := &Client{
		pending:   pending.New(),
		codecType: codec.CodecTypeJSON,
		idPrefix:  "req",
		logger:    zap.NewNop(),
		drained:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.conn = NewConn(d, c.logger, c.route, c.drain)
	return c
}

// Connect opens the connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect closes the connection and fails every pending call with ErrConnectionClosed.
// Calling it again has no further effect.
func (c *Client) Disconnect() error {
	return c.conn.Close()
}

// State returns the connection state.
func (c *Client) State() State {
	return c.conn.State()
}

// Done is closed once the connection is closed and every pending call has received its
// failure. A failure held back behind a chunk handler still running counts as pending.
func (c *Client) Done() <-chan struct{} {
	return c.drained
}

// Err returns the transport error that closed the connection, if any.
func (c *Client) Err() error {
	return c.conn.Err()
}

// Pending returns the number of calls awaiting a terminal response.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// drain runs once when the connection reaches Closed: reject every pending call, then clear.
func (c *Client) drain(cause error) {
	n := c.pending.RejectAll(connectionClosed(cause), func() { close(c.drained) })
	c.pending.Clear()
	if n > 0 {
		c.logger.Info("failed pending calls on close", zap.Int("calls", n))
	}
}

// Call is a unary call in flight. Done receives the call exactly once when it settles.
type Call struct {
	ID     string
	Method string
	Reply  json.RawMessage // Set on success
	Error  error           // Set on failure
	Done   chan *Call
}

// Decode unmarshals the reply into v.
func (call *Call) Decode(v any) error {
	if call.Error != nil {
		return call.Error
	}
	if len(call.Reply) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(call.Reply, v)
}

// Go starts a unary call and returns without waiting for the reply.
func (c *Client) Go(method string, args any) (*Call, error) {
	call := &Call{ID: c.nextID(), Method: method, Done: make(chan *Call, 1)}
	err := c.start(call.ID, method, args, kindUnary, pending.Handlers{
		OnSuccess: func(p json.RawMessage) {
			call.Reply = p
			c.metrics.CallFinished(kindUnary, "ok")
			call.Done <- call
		},
		OnFailure: func(err error) {
			call.Error = err
			c.metrics.CallFinished(kindUnary, outcome(err))
			call.Done <- call
		},
	})
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Call invokes method and waits for its reply, which is unmarshaled into reply when non-nil.
// If ctx ends first the call is cancelled locally and ctx.Err() is returned.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	call, err := c.Go(method, args)
	if err != nil {
		return err
	}
	select {
	case <-call.Done:
		return call.Decode(reply)
	case <-ctx.Done():
		if c.pending.Cancel(call.ID) == nil {
			c.metrics.CallFinished(kindUnary, "cancelled")
			return ctx.Err()
		}
		// Settled while we were giving up; report what actually happened.
		<-call.Done
		return call.Decode(reply)
	}
}

// StreamHandler receives the responses of a streaming call. OnChunk is required. After zero or
// more chunks exactly one of OnEnd or OnError runs, unless the call is cancelled first.
// Handlers run on the connection's read goroutine and should not block.
type StreamHandler struct {
	OnChunk func(payload json.RawMessage)
	OnError func(err error)
	OnEnd   func()
}

// CancelFunc stops delivery for a streaming call. It is idempotent; responses that arrive
// afterwards are dropped.
type CancelFunc func()

// Stream starts a server-streaming call.
func (c *Client) Stream(method string, args any, h StreamHandler) (CancelFunc, error) {
	if h.OnChunk == nil {
		return nil, ErrNoChunkHandler
	}
	id := c.nextID()
	err := c.start(id, method, args, kindStream, pending.Handlers{
		OnChunk: h.OnChunk,
		OnSuccess: func(json.RawMessage) {
			c.metrics.CallFinished(kindStream, "ok")
			if h.OnEnd != nil {
				h.OnEnd()
			}
		},
		OnFailure: func(err error) {
			c.metrics.CallFinished(kindStream, outcome(err))
			if h.OnError != nil {
				h.OnError(err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if c.pending.Cancel(id) == nil {
			c.metrics.CallFinished(kindStream, "cancelled")
			c.logger.Debug("stream cancelled", zap.String("id", id), zap.String("method", method))
		}
	}, nil
}

// start registers h under id and writes the request.
//
// Registration happens before the write so a fast reply can never beat its bookkeeping. If the
// write fails and the entry is still ours, it is removed and the error returned synchronously;
// if the connection drain got to it first, the call has already failed through h.
func (c *Client) start(id, method string, args any, kind string, h pending.Handlers) error {
	if c.conn.State() != StateOpen {
		return ErrNotConnected
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s args: %w", method, err)
	}
	cdc, err := codec.GetCodec(c.codecType)
	if err != nil {
		return err
	}
	body, err := cdc.Encode(message.NewRequest(id, method, payload))
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	if err := c.pending.Register(id, h); err != nil {
		return err
	}
	c.metrics.CallStarted(kind)

	if err := c.conn.Send(&transport.Frame{Codec: c.codecType, Body: body}); err != nil {
		if c.pending.Cancel(id) == nil {
			c.metrics.CallFinished(kind, "send_failed")
			return err
		}
		return nil
	}
	c.logger.Debug("call sent", zap.String("id", id), zap.String("method", method), zap.String("kind", kind))
	return nil
}

func (c *Client) nextID() string {
	return c.idPrefix + "_" + strconv.FormatUint(c.seq.Add(1), 10)
}
