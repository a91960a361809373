package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, w Responder) error {
			start := time.Now()
			err := next(ctx, req, w)
			fields := []zap.Field{
				zap.String("id", req.ID),
				zap.String("method", req.Method),
				zap.Bool("stream", req.Streaming),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("request done", fields...)
			}
			return err
		}
	}
}
