package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta/job"
)

// Timeout bounds one execution. The deadline is the job's Timeout capped
// at lease, the run lock TTL: an execution must stop before its lock can
// pass to another worker. A zero lease leaves Timeout uncapped, and a job
// without either runs unbounded.
func Timeout(logger *slog.Logger, lease time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		limit := j.Timeout
		if lease > 0 && (limit <= 0 || limit > lease) {
			limit = lease
		}
		if limit <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		err := next(ctx)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			attrs := append(jobAttrs(ctx, j), slog.Duration("limit", limit))
			logger.LogAttrs(ctx, slog.LevelWarn, "job exceeded its execution deadline", attrs...)
		}
		return err
	}
}
