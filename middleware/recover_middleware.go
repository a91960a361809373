package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Recover turns a panicking handler into an error response.
func Recover(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, w Responder) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked", zap.String("method", req.Method), zap.Any("panic", r), zap.Stack("stack"))
					err = fmt.Errorf("internal error in %s", req.Method)
				}
			}()
			return next(ctx, req, w)
		}
	}
}
