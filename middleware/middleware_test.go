package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Send(p json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, string(p))
	return nil
}

// echoHandler answers with "ok" straight away.
func echoHandler(ctx context.Context, req *Request, w Responder) error {
	return w.Send(json.RawMessage(`"ok"`))
}

// slowHandler takes 200ms unless its context ends first.
func slowHandler(ctx context.Context, req *Request, w Responder) error {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.Send(json.RawMessage(`"ok"`))
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := Logging(zap.New(core))(echoHandler)

	w := &recorder{}
	if err := handler(context.Background(), &Request{ID: "req_1", Method: "SayHello"}, w); err != nil {
		t.Fatal(err)
	}
	if len(w.sent) != 1 || w.sent[0] != `"ok"` {
		t.Fatalf("expect one 'ok' payload, got %v", w.sent)
	}

	failing := Logging(zap.New(core))(func(context.Context, *Request, Responder) error {
		return errors.New("boom")
	})
	if err := failing(context.Background(), &Request{ID: "req_2", Method: "SayHello"}, w); err == nil {
		t.Fatal("expect error to pass through")
	}

	if logs.FilterMessage("request done").Len() != 1 {
		t.Fatal("expect one 'request done' entry")
	}
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Fatal("expect one 'request failed' entry")
	}
}

func TestTimeoutPass(t *testing.T) {
	// 500ms budget, fast handler: should pass
	handler := Timeout(500*time.Millisecond, time.Second)(echoHandler)
	if err := handler(context.Background(), &Request{Method: "SayHello"}, &recorder{}); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 50ms budget, handler needs 200ms: should time out
	handler := Timeout(50*time.Millisecond, time.Second)(slowHandler)
	err := handler(context.Background(), &Request{Method: "SayHello"}, &recorder{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect timeout error, got '%v'", err)
	}
}

func TestTimeoutPerKind(t *testing.T) {
	// Streams get their own, longer budget.
	handler := Timeout(50*time.Millisecond, time.Second)(slowHandler)
	if err := handler(context.Background(), &Request{Method: "StreamMessages", Streaming: true}, &recorder{}); err != nil {
		t.Fatalf("expect stream to finish, got '%v'", err)
	}

	// Zero disables the bound.
	handler = Timeout(0, 0)(slowHandler)
	if err := handler(context.Background(), &Request{Method: "SayHello"}, &recorder{}); err != nil {
		t.Fatalf("expect no bound, got '%v'", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimit(1, 2)(echoHandler)
	req := &Request{Method: "SayHello"}

	for i := 0; i < 2; i++ {
		if err := handler(context.Background(), req, &recorder{}); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if err := handler(context.Background(), req, &recorder{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: '%v'", err)
	}
}

func TestRecover(t *testing.T) {
	handler := Recover(zap.NewNop())(func(context.Context, *Request, Responder) error {
		panic("nil map write")
	})
	err := handler(context.Background(), &Request{Method: "SayHello"}, &recorder{})
	if err == nil || err.Error() != "internal error in SayHello" {
		t.Fatalf("expect internal error, got '%v'", err)
	}
}

func TestRecoverAcrossTimeout(t *testing.T) {
	// Timeout runs the handler on its own goroutine; the panic must still reach Recover.
	handler := Chain(Recover(zap.NewNop()), Timeout(time.Second, time.Second))(func(context.Context, *Request, Responder) error {
		panic("service bug")
	})
	for _, streaming := range []bool{false, true} {
		err := handler(context.Background(), &Request{Method: "SayHello", Streaming: streaming}, &recorder{})
		if err == nil || err.Error() != "internal error in SayHello" {
			t.Fatalf("streaming=%v: expect internal error, got '%v'", streaming, err)
		}
	}
}

func TestTimeoutDropsLatePanic(t *testing.T) {
	release := make(chan struct{})
	panicked := make(chan struct{})
	handler := Timeout(20*time.Millisecond, 0)(func(context.Context, *Request, Responder) error {
		<-release
		defer close(panicked)
		panic("after the deadline")
	})
	err := handler(context.Background(), &Request{Method: "SayHello"}, &recorder{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect timeout error, got '%v'", err)
	}
	close(release)
	select {
	case <-panicked:
	case <-time.After(time.Second):
		t.Fatal("handler never ran to its panic")
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request, w Responder) error {
				order = append(order, name)
				return next(ctx, req, w)
			}
		}
	}

	chained := Chain(mark("outer"), Logging(zap.NewNop()), Timeout(500*time.Millisecond, 0), mark("inner"))
	w := &recorder{}
	if err := chained(echoHandler)(context.Background(), &Request{Method: "SayHello"}, w); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected order %v", order)
	}
	if len(w.sent) != 1 {
		t.Fatalf("expect one payload, got %v", w.sent)
	}
}
