// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, log, trace, record metrics).
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/orquesta/orquesta/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, tracing, logging) executes as:
//
//	recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// outcome classifies a handler result for logs, spans and metrics. A
// snoozed job parked itself and is not an error.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isSnooze(err):
		return "snoozed"
	default:
		return "error"
	}
}

func isSnooze(err error) bool {
	_, ok := job.AsSnooze(err)
	return ok
}

// jobAttrs identifies j in log lines, adding the run a run job drives and
// the claim it executes under.
func jobAttrs(ctx context.Context, j *job.Job) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("job_name", j.Name),
		slog.String("job_id", j.ID.String()),
	}
	var p struct {
		RunID string `json:"run_id"`
	}
	if json.Unmarshal(j.Payload, &p) == nil && p.RunID != "" {
		attrs = append(attrs, slog.String("run_id", p.RunID))
	}
	if c, ok := job.ClaimFrom(ctx); ok {
		attrs = append(attrs, slog.String("claim", c.Token))
	}
	return attrs
}
