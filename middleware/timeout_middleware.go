package middleware

import (
	"context"
	"time"

	"mini-discovery/action"
)

// TimeOutMiddleware puts a deadline on the context handed to the backend.
// The call itself stays on the worker thread; it ends early only if the backend
// honours ctx.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, act)
		}
	}
}
