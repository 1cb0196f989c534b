package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/retry"
)

// StepEmitter is notified of step outcomes. ext.Registry satisfies it.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, attempt int, err error)
}

type interruptKind int

const (
	interruptRetry interruptKind = iota + 1
	interruptSleep
	interruptFail
	interruptCancel
)

// interrupt unwinds the handler when the current execution cannot go
// past a step: a retry or sleep is pending, the run failed, or it was
// cancelled. The runner reads it from Workflow.halt, so a handler that
// swallows the error still stops.
type interrupt struct {
	kind    interruptKind
	step    string
	at      time.Time
	attempt int
	err     error
}

func (i *interrupt) Error() string {
	switch i.kind {
	case interruptRetry:
		return fmt.Sprintf("step %q: retry at %s: %v", i.step, i.at.Format(time.RFC3339), i.err)
	case interruptSleep:
		return fmt.Sprintf("step %q: sleeping until %s", i.step, i.at.Format(time.RFC3339))
	case interruptCancel:
		return "run cancelled"
	default:
		return i.err.Error()
	}
}

func (i *interrupt) Unwrap() error { return i.err }

// Workflow is the execution context passed to handlers. Every method is
// memoized against the run's persisted step state, so the handler can be
// replayed from the top on each execution.
type Workflow struct {
	ctx         context.Context
	run         *Run
	store       Store
	coordinator *retry.Coordinator
	emitter     StepEmitter
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int

	seq  int
	seen map[string]struct{}

	// lease is the token this execution holds the run lock under. Each
	// step boundary renews it for lockTTL.
	lease   string
	lockTTL time.Duration

	// halt is set once the execution must stop; infraErr is set when the
	// store failed and the whole execution should be retried.
	halt     *interrupt
	infraErr error
}

func newWorkflow(
	ctx context.Context,
	run *Run,
	store Store,
	coordinator *retry.Coordinator,
	emitter StepEmitter,
	logger *slog.Logger,
	now func() time.Time,
	maxAttempts int,
) *Workflow {
	return &Workflow{
		ctx:         ctx,
		run:         run,
		store:       store,
		coordinator: coordinator,
		emitter:     emitter,
		logger:      logger,
		now:         now,
		maxAttempts: maxAttempts,
		seen:        make(map[string]struct{}),
	}
}

// Context returns the execution context.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the run ID.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Run returns the run being executed.
func (w *Workflow) Run() *Run { return w.run }

// EventName returns the name of the triggering event, or "cron".
func (w *Workflow) EventName() string { return w.run.EventName }

// Logger returns a logger carrying the run and workflow IDs.
func (w *Workflow) Logger() *slog.Logger {
	return w.logger.With(
		slog.String("run_id", w.run.ID.String()),
		slog.String("workflow", w.run.WorkflowID),
	)
}
