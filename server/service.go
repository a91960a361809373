package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"rpcbridge/middleware"
)

// Stream sends the items of one streaming call. It is handed to streaming methods and must not
// be used after the method returns.
type Stream struct {
	ctx context.Context
	w   middleware.Responder
}

// NewStream returns a Stream delivering to w. The server builds one per streaming call; it is
// exported for exercising streaming methods directly.
func NewStream(ctx context.Context, w middleware.Responder) *Stream {
	return &Stream{ctx: ctx, w: w}
}

// Send marshals v to JSON and delivers it as the next chunk.
func (s *Stream) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stream item: %w", err)
	}
	return s.w.Send(data)
}

// Context is cancelled when the call times out or the client goes away.
func (s *Stream) Context() context.Context {
	return s.ctx
}

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type // nil for streaming methods
}

func (m *methodType) streaming() bool {
	return m.ReplyType == nil
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService scans rcvr for exported methods with one of the two bridge signatures:
//
//	func (r *T) Unary(ctx context.Context, args *Args, reply *Reply) error
//	func (r *T) Stream(ctx context.Context, args *Args, stream *server.Stream) error
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("type %s has no exported methods of suitable type", typ.Elem().Name())
	}
	return svc, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	streamType  = reflect.TypeOf((*Stream)(nil))
)

// registerMethods keeps methods shaped (receiver, ctx, *Args, *Reply|*Stream) error.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType || mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		m := &methodType{method: method, ArgType: mt.In(2).Elem()}
		if mt.In(3) != streamType {
			m.ReplyType = mt.In(3).Elem()
		}
		s.method[method.Name] = m
	}
}

// call decodes the args and invokes the method, sending the reply or stream items through w.
func (s *service) call(ctx context.Context, m *methodType, payload json.RawMessage, w middleware.Responder) error {
	argv := reflect.New(m.ArgType)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, argv.Interface()); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
	}

	if m.streaming() {
		return s.invoke(m, ctx, argv, reflect.ValueOf(NewStream(ctx, w)))
	}

	replyv := reflect.New(m.ReplyType)
	if err := s.invoke(m, ctx, argv, replyv); err != nil {
		return err
	}
	data, err := json.Marshal(replyv.Interface())
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	return w.Send(data)
}

func (s *service) invoke(m *methodType, ctx context.Context, argv, last reflect.Value) error {
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, last}
	results := m.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// splitMethod parses "Service.Method"; a bare "Method" addresses the unnamed service.
func splitMethod(name string) (service, method string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
