package middleware

import (
	"context"
	"errors"
	"fmt"

	"mini-discovery/action"
)

var ErrPanic = errors.New("backend panicked")

// RecoverMiddleware turns a panic inside the backend into an error, so the action
// still completes (with ok=false) and the worker keeps running.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrPanic, r)
				}
			}()
			return next(ctx, act)
		}
	}
}
