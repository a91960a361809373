// Package middleware wraps the bridge server's request handler.
//
// A handler answers one request by sending zero or more payloads through its Responder and
// then returning. A nil return finishes the call (the server adds the end marker for streaming
// methods); a non-nil return becomes the call's error response.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrTimeout     = errors.New("request timed out")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Request is one decoded call as seen by the handler chain.
type Request struct {
	ID        string
	Method    string
	Payload   json.RawMessage
	Streaming bool // Resolved from the registered method, not from the wire
}

// Responder delivers payloads for one request back to the caller.
type Responder interface {
	Send(payload json.RawMessage) error
}

type HandlerFunc func(ctx context.Context, req *Request, w Responder) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
