package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta/job"
)

// Logging logs the start and outcome of every job. A snoozed run job
// parked its run and is logged at debug.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := jobAttrs(ctx, j)
		logger.LogAttrs(ctx, slog.LevelInfo, "job started",
			append(attrs, slog.String("queue", j.Queue), slog.String("partition", j.Partition))...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		switch outcome(err) {
		case "snoozed":
			until, _ := job.AsSnooze(err)
			logger.LogAttrs(ctx, slog.LevelDebug, "job snoozed", append(attrs, slog.Time("until", until))...)
		case "error":
			logger.LogAttrs(ctx, slog.LevelError, "job failed", append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
		}
		return err
	}
}
