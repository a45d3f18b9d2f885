package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-discovery/action"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, act action.Action) error {
			start := time.Now()
			err := next(ctx, act)
			fields := []zap.Field{
				zap.Stringer("kind", act.Kind()),
				zap.String("target", act.Target()),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("ok", act.OK()),
			}
			if err != nil {
				log.Warn("backend call failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("backend call", fields...)
			}
			return err
		}
	}
}
