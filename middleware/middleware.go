// Package middleware wraps the backend call the worker makes for every action.
//
//	Chain(Recover, Logging, Timeout)(perform)
//	  → Recover.before → Logging.before → Timeout.before → action.Perform → ... after
//
// Middleware runs on the worker thread, so it may block, but it must never move the
// backend call to another goroutine: the backend only tolerates one caller.
// A middleware that rejects an action simply does not call next; the action keeps
// its initial ok=false and its callback still fires.
package middleware

import (
	"context"

	"mini-discovery/action"
)

type HandlerFunc func(ctx context.Context, act action.Action) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
