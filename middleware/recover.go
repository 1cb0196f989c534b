package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/orquesta/orquesta/job"
)

// Recover turns a panic below it into an ordinary job error, so the
// executor retries the job and the run it drives is not left running.
// Handler panics inside a workflow are already caught per step; this
// catches the engine code around them.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			attrs := append(jobAttrs(ctx, j),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			logger.LogAttrs(ctx, slog.LevelError, "job handler panicked", attrs...)
			err = fmt.Errorf("panic in job %s: %v", j.Name, p)
		}()
		return next(ctx)
	}
}
