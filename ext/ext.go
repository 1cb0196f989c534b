// Package ext defines the extension system for orquesta.
// Extensions are notified of lifecycle events (run started, step failed,
// event received, etc.) and can react to them: metrics, alerts, audit.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called the first time a run executes.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *workflow.Run) error
}

// StepCompleted is called after a step succeeds or a sleep elapses.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error
}

// StepFailed is called after every failed step attempt.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, stepName string, attempt int, err error) error
}

// RunRetrying is called when a run is parked until a failed step retries.
type RunRetrying interface {
	OnRunRetrying(ctx context.Context, r *workflow.Run, stepName string, attempt int, at time.Time) error
}

// RunSleeping is called when a run is parked on a sleep.
type RunSleeping interface {
	OnRunSleeping(ctx context.Context, r *workflow.Run, stepName string, until time.Time) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *workflow.Run, err error) error
}

// RunCancelled is called when a run is cancelled.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *workflow.Run) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EventReceived is called after an event is persisted, before it is
// matched to workflows.
type EventReceived interface {
	OnEventReceived(ctx context.Context, evt *event.Event) error
}

// CronFired is called when a cron entry fires and starts a run.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, runID id.RunID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
