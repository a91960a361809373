// Package server implements the bridge server: reflection-registered services exposed to
// multiplexing clients over WebSocket and framed TCP.
//
// Request processing pipeline:
//
//	Accept conn → serveConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → chunk* then end|error
//
// Every response is addressed by the request's id and encoded with the codec the request
// arrived in, so one connection can carry JSON and binary calls side by side.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rpcbridge/discovery"
	"rpcbridge/metrics"
	"rpcbridge/middleware"
	"rpcbridge/protocol"
	"rpcbridge/transport"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("rpcbridge: server closed")

type announcement struct {
	registry discovery.Registry
	name     string
	endpoint string
}

// Server is the bridge server. Register services and add middleware before serving.
type Server struct {
	serviceMap   map[string]*service     // "" holds methods called by bare name
	middlewares  []middleware.Middleware // Applied in the order they were added
	handlerOnce  sync.Once
	handler      middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	heartbeat    time.Duration
	logger       *zap.Logger
	metrics      *metrics.Server

	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool

	mu            sync.Mutex
	listeners     map[net.Listener]struct{}
	conns         map[*conn]struct{}
	announcements []announcement
}

// NewServer creates a server with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap:   make(map[string]*service),
		pingInterval: 30 * time.Second,
		logger:       zap.NewNop(),
		listeners:    make(map[net.Listener]struct{}),
		conns:        make(map[*conn]struct{}),
	}
	WithAllowedOrigins()(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register publishes the methods of rcvr under its type name, as "Type.Method".
func (s *Server) Register(rcvr any) error {
	svc, err := newService("", rcvr)
	if err != nil {
		return err
	}
	svc.name = svc.typ.Elem().Name()
	return s.add(svc)
}

// RegisterName publishes the methods of rcvr as "name.Method", or as bare "Method" when name
// is empty.
func (s *Server) RegisterName(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	return s.add(svc)
}

func (s *Server) add(svc *service) error {
	if _, dup := s.serviceMap[svc.name]; dup {
		return fmt.Errorf("service %q already registered", svc.name)
	}
	s.serviceMap[svc.name] = svc
	for name, m := range svc.method {
		s.logger.Debug("registered method", zap.String("service", svc.name), zap.String("method", name), zap.Bool("stream", m.streaming()))
	}
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added, inside a
// Recover the server always installs; the chain is built on the first request, so Use must be
// called before serving.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Chain wraps middlewares in reverse order to create the onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
func (s *Server) chain() middleware.HandlerFunc {
	s.handlerOnce.Do(func() {
		// A panicking handler fails its own call, never the process.
		mws := append([]middleware.Middleware{middleware.Recover(s.logger)}, s.middlewares...)
		s.handler = middleware.Chain(mws...)(s.businessHandler)
	})
	return s.handler
}

func (s *Server) lookup(name string) (*service, *methodType, bool) {
	svcName, methodName := splitMethod(name)
	svc, ok := s.serviceMap[svcName]
	if !ok {
		return nil, nil, false
	}
	m, ok := svc.method[methodName]
	return svc, m, ok
}

// businessHandler dispatches to the registered method. It is wrapped by the middleware chain.
func (s *Server) businessHandler(ctx context.Context, req *middleware.Request, w middleware.Responder) error {
	svc, m, ok := s.lookup(req.Method)
	if !ok {
		return fmt.Errorf("unknown method: %s", req.Method)
	}
	return svc.call(ctx, m, req.Payload, w)
}

// ServeHTTP upgrades the request to a WebSocket and serves bridge calls on it until the client
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := transport.Upgrade(w, r, &s.upgrader, s.pingInterval)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.serveTransport(ws, "ws", r.RemoteAddr)
}

// Serve accepts framed TCP connections on lis until Shutdown. It always returns a non-nil
// error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = lis.Close()
		return ErrServerClosed
	}
	s.listeners[lis] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("serving framed tcp", zap.Stringer("addr", lis.Addr()))
	for {
		nc, err := lis.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return err
		}
		go s.serveTransport(transport.NewFramed(nc, protocol.MsgTypeResponse, s.heartbeat), "tcp", nc.RemoteAddr().String())
	}
}

// ListenAndServe listens on the TCP address and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Announce registers endpoint under name in reg and keeps it registered until Shutdown or
// until ctx ends.
func (s *Server) Announce(ctx context.Context, reg discovery.Registry, name string, inst discovery.Instance, ttl int64) error {
	if err := reg.Register(ctx, name, inst, ttl); err != nil {
		return fmt.Errorf("announce %s at %s: %w", name, inst.Endpoint, err)
	}
	s.mu.Lock()
	s.announcements = append(s.announcements, announcement{registry: reg, name: name, endpoint: inst.Endpoint})
	s.mu.Unlock()
	s.logger.Info("announced endpoint", zap.String("name", name), zap.String("endpoint", inst.Endpoint))
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister announced endpoints (clients stop picking this server)
//  2. Set shutdown flag (so Accept errors are recognized as intentional)
//  3. Close the listeners (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining client connections
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	announcements := s.announcements
	s.announcements = nil
	s.shutdown.Store(true)
	listeners := s.listeners
	s.listeners = make(map[net.Listener]struct{})
	s.mu.Unlock()

	var errs error
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, a := range announcements {
		errs = multierr.Append(errs, a.registry.Deregister(ctx, a.name, a.endpoint))
	}
	for lis := range listeners {
		errs = multierr.Append(errs, lis.Close())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()
	for c := range conns {
		c.close()
	}

	s.logger.Info("server stopped", zap.Int("connections_closed", len(conns)), zap.Error(errs))
	return errs
}

func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}
