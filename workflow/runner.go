package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/retry"
)

// RunEmitter emits run lifecycle events. ext.Registry satisfies it.
type RunEmitter interface {
	StepEmitter
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunRetrying(ctx context.Context, run *Run, stepName string, attempt int, at time.Time)
	EmitRunSleeping(ctx context.Context, run *Run, stepName string, until time.Time)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunCancelled(ctx context.Context, run *Run)
}

// Enqueuer schedules the first execution of a new or replayed run. The
// engine implements it on top of the job queue.
type Enqueuer interface {
	EnqueueRun(ctx context.Context, run *Run) error
	// PendingExecution reports whether an execution of the run is already
	// scheduled or in flight.
	PendingExecution(ctx context.Context, runID id.RunID) (bool, error)
}

// DeadLetter receives runs that failed terminally. dlq.Service satisfies it.
type DeadLetter interface {
	PushRun(ctx context.Context, run *Run, err error) error
}

// Result reports the outcome of one execution. A non-zero ResumeAt asks
// the caller to execute the run again at that time.
type Result struct {
	Run      *Run
	ResumeAt time.Time
}

// StartInput describes the trigger of a new run.
type StartInput struct {
	EventID        id.EventID
	EventName      string
	Payload        json.RawMessage
	IdempotencyKey string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDeadLetter sets where terminally failed runs are recorded.
func WithDeadLetter(d DeadLetter) RunnerOption {
	return func(r *Runner) { r.deadLetter = d }
}

// WithCoordinator sets the retry coordinator.
func WithCoordinator(c *retry.Coordinator) RunnerOption {
	return func(r *Runner) { r.coordinator = c }
}

// WithWorkerID sets the identity that prefixes lease tokens minted by
// the runner itself.
func WithWorkerID(w id.WorkerID) RunnerOption {
	return func(r *Runner) { r.workerID = w }
}

// WithLockTTL sets how long one execution may hold a run.
func WithLockTTL(d time.Duration) RunnerOption {
	return func(r *Runner) { r.lockTTL = d }
}

// WithDefaultRetries sets the retries of definitions that leave Retries zero.
func WithDefaultRetries(n int) RunnerOption {
	return func(r *Runner) { r.defaultRetries = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// Runner creates runs and executes them against their step state.
type Runner struct {
	registry       *Registry
	store          Store
	enqueuer       Enqueuer
	emitter        RunEmitter
	deadLetter     DeadLetter
	coordinator    *retry.Coordinator
	workerID       id.WorkerID
	leases         atomic.Uint64
	lockTTL        time.Duration
	defaultRetries int
	now            func() time.Time
	logger         *slog.Logger
}

// NewRunner creates a workflow runner.
func NewRunner(
	registry *Registry,
	store Store,
	enqueuer Enqueuer,
	emitter RunEmitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		registry:       registry,
		store:          store,
		enqueuer:       enqueuer,
		emitter:        emitter,
		coordinator:    retry.NewCoordinator(nil),
		workerID:       id.NewWorkerID(),
		lockTTL:        5 * time.Minute,
		defaultRetries: 3,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Store returns the workflow store.
func (r *Runner) Store() Store { return r.store }

// Dispatch starts one run per definition triggered by evt. It implements
// event.Dispatcher. A definition already started for this event is
// skipped, so dispatching the same event twice is harmless.
func (r *Runner) Dispatch(ctx context.Context, evt *event.Event) ([]id.RunID, error) {
	defs, matchErr := r.registry.Match(evt)

	var (
		runIDs []id.RunID
		errs   []error
	)
	if matchErr != nil {
		errs = append(errs, matchErr)
	}
	for _, def := range defs {
		run, err := r.Start(ctx, def.ID, StartInput{
			EventID:        evt.ID,
			EventName:      evt.Name,
			Payload:        evt.Payload,
			IdempotencyKey: evt.ID.String() + ":" + def.ID,
		})
		if errors.Is(err, orquesta.ErrRunAlreadyExists) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		runIDs = append(runIDs, run.ID)
	}
	return runIDs, errors.Join(errs...)
}

// Start persists a queued run of workflowID and schedules its first
// execution. It never executes the handler itself.
func (r *Runner) Start(ctx context.Context, workflowID string, in StartInput) (*Run, error) {
	if _, ok := r.registry.Get(workflowID); !ok {
		return nil, fmt.Errorf("%w: %s", orquesta.ErrWorkflowNotFound, workflowID)
	}

	run := &Run{
		Entity:         orquesta.NewEntity(),
		ID:             id.NewRunID(),
		WorkflowID:     workflowID,
		EventID:        in.EventID,
		EventName:      in.EventName,
		Payload:        in.Payload,
		State:          RunStateQueued,
		IdempotencyKey: in.IdempotencyKey,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", workflowID, err)
	}
	if err := r.enqueuer.EnqueueRun(ctx, run); err != nil {
		return nil, fmt.Errorf("enqueue run %s: %w", run.ID, err)
	}
	return run, nil
}

// StartCron starts a run for one cron tick. key identifies the tick, so
// a tick is started at most once.
func (r *Runner) StartCron(ctx context.Context, workflowID, schedule string, tick time.Time, key string) (*Run, error) {
	payload, err := json.Marshal(map[string]any{"cron": schedule, "tick": tick.UTC()})
	if err != nil {
		return nil, err
	}
	return r.Start(ctx, workflowID, StartInput{
		EventName:      "cron",
		Payload:        payload,
		IdempotencyKey: key,
	})
}

// Execute replays the run's handler once. Completed steps are returned
// from their stored output; the first incomplete step runs. The run lock
// makes this the only execution of the run in the cluster. It is taken
// under the lease token in ctx (see WithLease), or a fresh one, and if any
// other execution holds it orquesta.ErrRunLocked is returned.
//
// Other errors are infrastructure failures: the run keeps its state and
// the caller should execute it again later.
func (r *Runner) Execute(ctx context.Context, runID id.RunID) (*Result, error) {
	lease, ok := LeaseFrom(ctx)
	if !ok {
		lease = fmt.Sprintf("%s/%d", r.workerID, r.leases.Add(1))
	}
	acquired, err := r.store.AcquireRunLock(ctx, runID, lease, r.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock run %s: %w", runID, err)
	}
	if !acquired {
		return nil, orquesta.ErrRunLocked
	}
	defer func() {
		if relErr := r.store.ReleaseRunLock(context.WithoutCancel(ctx), runID, lease); relErr != nil {
			r.logger.Warn("failed to release run lock",
				slog.String("run_id", runID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State.Terminal() {
		return &Result{Run: run}, nil
	}

	def, ok := r.registry.Get(run.WorkflowID)
	if !ok {
		return r.fail(ctx, run, "", fmt.Errorf("%w: %s", orquesta.ErrWorkflowNotFound, run.WorkflowID))
	}

	now := r.now()
	first := run.StartedAt == nil
	if first {
		run.StartedAt = &now
	}
	run.State = RunStateRunning
	run.WakeAt = nil
	if err := r.save(ctx, run); err != nil {
		return r.saveResult(run, err)
	}
	if first {
		r.emitter.EmitRunStarted(ctx, run)
	}

	wf := newWorkflow(ctx, run, r.store, r.coordinator, r.emitter, r.logger, r.now, def.MaxAttempts(r.defaultRetries))
	wf.lease, wf.lockTTL = lease, r.lockTTL
	output, handlerErr := invokeHandler(def.Handler, wf)
	if wf.infraErr == nil {
		// Settle only while this execution still owns the run.
		_ = wf.renewLease()
	}

	switch {
	case wf.infraErr != nil:
		return nil, wf.infraErr
	case wf.halt != nil:
		return r.interrupted(ctx, run, wf.halt)
	case handlerErr != nil:
		if isInterrupt(handlerErr) {
			return nil, fmt.Errorf("run %s: stray interrupt: %w", runID, handlerErr)
		}
		return r.fail(ctx, run, "", handlerErr)
	}

	data, err := json.Marshal(output)
	if err != nil {
		return r.fail(ctx, run, "", fmt.Errorf("encode output: %w", err))
	}
	return r.complete(ctx, run, data)
}

func (r *Runner) interrupted(ctx context.Context, run *Run, halt *interrupt) (*Result, error) {
	switch halt.kind {
	case interruptRetry:
		at := halt.at
		run.State = RunStateQueued
		run.WakeAt = &at
		if err := r.save(ctx, run); err != nil {
			return r.saveResult(run, err)
		}
		r.emitter.EmitRunRetrying(ctx, run, halt.step, halt.attempt, at)
		r.logger.Info("step scheduled for retry",
			slog.String("run_id", run.ID.String()),
			slog.String("step", halt.step),
			slog.Int("attempt", halt.attempt),
			slog.Time("retry_at", at),
		)
		return &Result{Run: run, ResumeAt: at}, nil

	case interruptSleep:
		at := halt.at
		run.State = RunStateSleeping
		run.WakeAt = &at
		if err := r.save(ctx, run); err != nil {
			return r.saveResult(run, err)
		}
		r.emitter.EmitRunSleeping(ctx, run, halt.step, at)
		return &Result{Run: run, ResumeAt: at}, nil

	case interruptCancel:
		current, err := r.store.GetRun(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("reload cancelled run %s: %w", run.ID, err)
		}
		return &Result{Run: current}, nil

	default:
		return r.fail(ctx, run, halt.step, halt.err)
	}
}

func (r *Runner) complete(ctx context.Context, run *Run, output json.RawMessage) (*Result, error) {
	now := r.now()
	run.State = RunStateCompleted
	run.Output = output
	run.CompletedAt = &now
	if err := r.save(ctx, run); err != nil {
		return r.saveResult(run, err)
	}

	var elapsed time.Duration
	if run.StartedAt != nil {
		elapsed = now.Sub(*run.StartedAt)
	}
	r.emitter.EmitRunCompleted(ctx, run, elapsed)
	r.logger.Info("run completed",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.WorkflowID),
		slog.Duration("elapsed", elapsed),
	)
	return &Result{Run: run}, nil
}

func (r *Runner) fail(ctx context.Context, run *Run, step string, runErr error) (*Result, error) {
	now := r.now()
	run.State = RunStateFailed
	run.Error = runErr.Error()
	run.FailedStep = step
	run.WakeAt = nil
	run.CompletedAt = &now
	if err := r.save(ctx, run); err != nil {
		return r.saveResult(run, err)
	}

	r.emitter.EmitRunFailed(ctx, run, runErr)
	if r.deadLetter != nil {
		if dlqErr := r.deadLetter.PushRun(ctx, run, runErr); dlqErr != nil {
			r.logger.Error("failed to push run to DLQ",
				slog.String("run_id", run.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}
	r.logger.Warn("run failed",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.WorkflowID),
		slog.String("step", step),
		slog.String("error", run.Error),
	)
	return &Result{Run: run}, nil
}

// liveStates are the states an execution may move a run out of.
var liveStates = []RunState{RunStateQueued, RunStateRunning, RunStateSleeping}

// save writes run only while the stored run is still live. If a
// concurrent Cancel or Abort finished it first, run is replaced by the
// stored version and errRunSettled is returned, so that only the write
// that won emits lifecycle events.
func (r *Runner) save(ctx context.Context, run *Run) error {
	wrote, err := r.store.TransitionRun(ctx, run, liveStates...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if wrote {
		return nil
	}
	current, err := r.store.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reload run %s: %w", run.ID, err)
	}
	*run = *current
	return errRunSettled
}

var errRunSettled = errors.New("run already settled")

func (r *Runner) saveResult(run *Run, err error) (*Result, error) {
	if errors.Is(err, errRunSettled) {
		return &Result{Run: run}, nil
	}
	return nil, err
}

// Cancel marks a run cancelled. An execution in progress stops at its
// next step boundary; a parked run is discarded when it wakes. The write
// is conditional on the state Cancel read, so a run that completes or
// fails concurrently ends with exactly one terminal state.
func (r *Runner) Cancel(ctx context.Context, runID id.RunID) (*Run, error) {
	for range maxCancelAttempts {
		run, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.State.Terminal() {
			return nil, fmt.Errorf("%w: run %s is %s", orquesta.ErrInvalidState, runID, run.State)
		}
		from := run.State
		now := r.now()
		run.State = RunStateCancelled
		run.WakeAt = nil
		run.CompletedAt = &now
		wrote, err := r.store.TransitionRun(ctx, run, from)
		if err != nil {
			return nil, fmt.Errorf("cancel run %s: %w", runID, err)
		}
		if wrote {
			r.emitter.EmitRunCancelled(ctx, run)
			return run, nil
		}
	}
	return nil, fmt.Errorf("cancel run %s: state kept changing", runID)
}

const maxCancelAttempts = 5

// Abort fails a run that can no longer be executed, for example because
// its execution kept hitting infrastructure errors. Terminal runs are
// returned unchanged.
func (r *Runner) Abort(ctx context.Context, runID id.RunID, cause error) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return run, nil
	}
	res, err := r.fail(ctx, run, run.FailedStep, cause)
	if err != nil {
		return nil, err
	}
	return res.Run, nil
}

// Replay requeues a failed run. Completed steps stay memoized; the step
// that failed gets a fresh attempt budget. A queued run with no execution
// scheduled is enqueued again as is, which recovers a run whose first
// enqueue failed. A queued run that already has one is refused with
// orquesta.ErrInvalidState.
func (r *Runner) Replay(ctx context.Context, runID id.RunID) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State == RunStateQueued {
		pending, err := r.enqueuer.PendingExecution(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("look up execution of run %s: %w", runID, err)
		}
		if pending {
			return nil, fmt.Errorf("%w: run %s already has a pending execution", orquesta.ErrInvalidState, runID)
		}
		if err := r.enqueuer.EnqueueRun(ctx, run); err != nil {
			return nil, fmt.Errorf("enqueue run %s: %w", runID, err)
		}
		return run, nil
	}
	if run.State != RunStateFailed {
		return nil, fmt.Errorf("%w: run %s is %s, not failed or queued", orquesta.ErrInvalidState, runID, run.State)
	}

	steps, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps of run %s: %w", runID, err)
	}
	for _, cp := range steps {
		if cp.Completed || cp.Attempts == 0 {
			continue
		}
		cp.Attempts = 0
		cp.LastError = ""
		cp.UpdatedAt = r.now()
		if err := r.store.SaveCheckpoint(ctx, cp); err != nil {
			return nil, fmt.Errorf("reset step %q of run %s: %w", cp.StepName, runID, err)
		}
	}

	run.State = RunStateQueued
	run.Error = ""
	run.FailedStep = ""
	run.CompletedAt = nil
	wrote, err := r.store.TransitionRun(ctx, run, RunStateFailed)
	if err != nil {
		return nil, fmt.Errorf("requeue run %s: %w", runID, err)
	}
	if !wrote {
		return nil, fmt.Errorf("%w: run %s was replayed concurrently", orquesta.ErrInvalidState, runID)
	}
	if err := r.enqueuer.EnqueueRun(ctx, run); err != nil {
		return nil, fmt.Errorf("enqueue run %s: %w", runID, err)
	}
	return run, nil
}

// invokeHandler runs the handler, converting a panic into an error.
func invokeHandler(h HandlerFunc, wf *Workflow) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in workflow %s: %v", wf.run.WorkflowID, p)
		}
	}()
	return h(wf)
}
