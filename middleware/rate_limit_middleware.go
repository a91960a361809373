package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimit rejects requests beyond r per second with bursts of burst, using one token bucket
// shared by every connection of the server.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, w Responder) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, req, w)
		}
	}
}
