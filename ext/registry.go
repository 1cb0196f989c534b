package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies workflow.RunEmitter, event.Emitter and cron.Emitter.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted    []entry[RunStarted]
	stepCompleted []entry[StepCompleted]
	stepFailed    []entry[StepFailed]
	runRetrying   []entry[RunRetrying]
	runSleeping   []entry[RunSleeping]
	runCompleted  []entry[RunCompleted]
	runFailed     []entry[RunFailed]
	runCancelled  []entry[RunCancelled]
	eventReceived []entry[EventReceived]
	cronFired     []entry[CronFired]
	shutdown      []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	cache(&r.runStarted, name, e)
	cache(&r.stepCompleted, name, e)
	cache(&r.stepFailed, name, e)
	cache(&r.runRetrying, name, e)
	cache(&r.runSleeping, name, e)
	cache(&r.runCompleted, name, e)
	cache(&r.runFailed, name, e)
	cache(&r.runCancelled, name, e)
	cache(&r.eventReceived, name, e)
	cache(&r.cronFired, name, e)
	cache(&r.shutdown, name, e)
}

func cache[H any](entries *[]entry[H], name string, e Extension) {
	if h, ok := e.(H); ok {
		*entries = append(*entries, entry[H]{name: name, hook: h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit calls fn for each cached hook. Hook errors are logged, never
// propagated.
func emit[H any](r *Registry, hookName string, entries []entry[H], fn func(H) error) {
	for _, e := range entries {
		if err := fn(e.hook); err != nil {
			r.logHookError(hookName, e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	emit(r, "OnRunStarted", r.runStarted, func(h RunStarted) error {
		return h.OnRunStarted(ctx, run)
	})
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	emit(r, "OnStepCompleted", r.stepCompleted, func(h StepCompleted) error {
		return h.OnStepCompleted(ctx, run, stepName, elapsed)
	})
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, attempt int, stepErr error) {
	emit(r, "OnStepFailed", r.stepFailed, func(h StepFailed) error {
		return h.OnStepFailed(ctx, run, stepName, attempt, stepErr)
	})
}

// EmitRunRetrying notifies all extensions that implement RunRetrying.
func (r *Registry) EmitRunRetrying(ctx context.Context, run *workflow.Run, stepName string, attempt int, at time.Time) {
	emit(r, "OnRunRetrying", r.runRetrying, func(h RunRetrying) error {
		return h.OnRunRetrying(ctx, run, stepName, attempt, at)
	})
}

// EmitRunSleeping notifies all extensions that implement RunSleeping.
func (r *Registry) EmitRunSleeping(ctx context.Context, run *workflow.Run, stepName string, until time.Time) {
	emit(r, "OnRunSleeping", r.runSleeping, func(h RunSleeping) error {
		return h.OnRunSleeping(ctx, run, stepName, until)
	})
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	emit(r, "OnRunCompleted", r.runCompleted, func(h RunCompleted) error {
		return h.OnRunCompleted(ctx, run, elapsed)
	})
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	emit(r, "OnRunFailed", r.runFailed, func(h RunFailed) error {
		return h.OnRunFailed(ctx, run, runErr)
	})
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *workflow.Run) {
	emit(r, "OnRunCancelled", r.runCancelled, func(h RunCancelled) error {
		return h.OnRunCancelled(ctx, run)
	})
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitEventReceived notifies all extensions that implement EventReceived.
func (r *Registry) EmitEventReceived(ctx context.Context, evt *event.Event) {
	emit(r, "OnEventReceived", r.eventReceived, func(h EventReceived) error {
		return h.OnEventReceived(ctx, evt)
	})
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, runID id.RunID) {
	emit(r, "OnCronFired", r.cronFired, func(h CronFired) error {
		return h.OnCronFired(ctx, entryName, runID)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
