package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpcbridge/codec"
	"rpcbridge/message"
	"rpcbridge/middleware"
	"rpcbridge/transport"
)

var errResponseClosed = errors.New("response already finished")

// conn is one client connection. A single goroutine reads frames; each request is handled in
// its own goroutine and all of them share the transport, whose writes are serialized.
type conn struct {
	id     string
	tr     transport.Transport
	logger *zap.Logger
	ctx    context.Context // Cancelled when the connection goes away
	cancel context.CancelFunc
}

func (c *conn) close() {
	c.cancel()
	_ = c.tr.Close()
}

func (s *Server) serveTransport(tr transport.Transport, network, remote string) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:     uuid.NewString(),
		tr:     tr,
		logger: s.logger.With(zap.String("conn", network+":"+remote)),
		ctx:    ctx,
		cancel: cancel,
	}
	if !s.trackConn(c, true) {
		c.close()
		return
	}
	s.metrics.ConnOpened()
	c.logger.Info("client connected", zap.String("conn_id", c.id))
	defer func() {
		c.close()
		s.trackConn(c, false)
		s.metrics.ConnClosed()
		c.logger.Info("client disconnected", zap.String("conn_id", c.id))
	}()

	for {
		f, err := tr.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		env, cdc, err := decodeRequest(f)
		if err != nil {
			c.logger.Warn("dropping malformed request", zap.Stringer("codec", f.Codec), zap.Error(err))
			if env != nil && env.ID != "" {
				c.write(cdc, message.NewError(env.ID, env.Method, err.Error()))
			}
			continue
		}
		if !s.beginRequest() {
			c.write(cdc, message.NewError(env.ID, env.Method, ErrServerClosed.Error()))
			continue
		}
		go s.handleRequest(c, cdc, env)
	}
}

// beginRequest counts a request in flight unless the server is shutting down.
func (s *Server) beginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func decodeRequest(f *transport.Frame) (*message.Envelope, codec.Codec, error) {
	cdc, err := codec.GetCodec(f.Codec)
	if err != nil {
		return nil, nil, err
	}
	var env message.Envelope
	if err := cdc.Decode(f.Body, &env); err != nil {
		return nil, cdc, err
	}
	if err := env.Validate(); err != nil {
		return &env, cdc, err
	}
	if env.Type != message.TypeRequest {
		return &env, cdc, errors.New("expected a request")
	}
	return &env, cdc, nil
}

// handleRequest runs one call through the handler chain and writes its final response:
// the error, or the end marker for a streaming method.
func (s *Server) handleRequest(c *conn, cdc codec.Codec, env *message.Envelope) {
	defer s.wg.Done()
	start := time.Now()

	req := &middleware.Request{ID: env.ID, Method: env.Method, Payload: env.Payload}
	label := "unknown"
	if _, m, ok := s.lookup(env.Method); ok {
		req.Streaming = m.streaming()
		label = env.Method
	}

	w := &responder{conn: c, codec: cdc, id: env.ID, method: env.Method}
	err := s.chain()(c.ctx, req, w)
	w.finish(req.Streaming, err)
	s.metrics.RequestDone(label, err, time.Since(start))
}

func (c *conn) write(cdc codec.Codec, env *message.Envelope) bool {
	body, err := cdc.Encode(env)
	if err != nil {
		c.logger.Error("encode response", zap.String("id", env.ID), zap.Error(err))
		return false
	}
	if err := c.tr.WriteFrame(&transport.Frame{Codec: cdc.Type(), Body: body}); err != nil {
		c.logger.Debug("write response", zap.String("id", env.ID), zap.Error(err))
		return false
	}
	return true
}

// responder sends the responses of one request. Once the final response is written, further
// sends fail so a handler abandoned by a timeout cannot answer after the fact.
type responder struct {
	conn   *conn
	codec  codec.Codec
	id     string
	method string

	mu   sync.Mutex
	done bool
}

func (w *responder) Send(payload json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errResponseClosed
	}
	if !w.conn.write(w.codec, message.NewChunk(w.id, w.method, payload)) {
		return io.ErrClosedPipe
	}
	return nil
}

func (w *responder) finish(streaming bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	switch {
	case err != nil:
		w.conn.write(w.codec, message.NewError(w.id, w.method, err.Error()))
	case streaming:
		w.conn.write(w.codec, message.NewEnd(w.id, w.method))
	}
}
