package middleware

import (
	"context"
	"time"
)

// Timeout bounds each request: unary calls by unary, streaming calls by stream. A zero
// duration disables the bound for that kind.
//
// When the bound is hit the handler's context is cancelled and ErrTimeout is returned at once;
// the server drops anything the handler still sends. A panic in the handler is raised again on
// the caller's goroutine so an outer Recover sees it; once the bound has been hit it is dropped.
func Timeout(unary, stream time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, w Responder) error {
			timeout := unary
			if req.Streaming {
				timeout = stream
			}
			if timeout <= 0 {
				return next(ctx, req, w)
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						panicked <- r
					}
				}()
				done <- next(ctx, req, w)
			}()

			select {
			case err := <-done:
				return err
			case r := <-panicked:
				panic(r)
			case <-ctx.Done():
				return ErrTimeout
			}
		}
	}
}
