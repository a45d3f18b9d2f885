package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"mini-discovery/action"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
// Actions over the limit are not sent to the backend and complete with ok=false.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, act)
		}
	}
}
