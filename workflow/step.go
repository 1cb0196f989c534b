package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/retry"
)

// Step runs fn once per run under name. If the step already completed
// in an earlier execution, fn is skipped. If fn fails, the error is
// returned and the execution stops; the step is invoked again after a
// backoff until it succeeds or exhausts its attempts.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	_, err := w.do(name, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// StepResult is Step for a step that produces a value. The value is
// stored as JSON and decoded on every execution, including the first,
// so T must survive a JSON round trip.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func StepResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	data, err := w.do(name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if len(data) > 0 {
		if decErr := json.Unmarshal(data, &out); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode step %q: %w", w.run.WorkflowID, name, decErr)
		}
	}
	return out, nil
}

// Sleep parks the run for d. The first execution that reaches it records
// the wake time and stops; the run is resumed by a later execution at or
// after that time, which continues with the next step.
func (w *Workflow) Sleep(name string, d time.Duration) error {
	return w.sleep(name, func(now time.Time) time.Time { return now.Add(d) })
}

// SleepUntil parks the run until t.
func (w *Workflow) SleepUntil(name string, t time.Time) error {
	return w.sleep(name, func(time.Time) time.Time { return t.UTC() })
}

func (w *Workflow) do(name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if err := w.enter(name); err != nil {
		return nil, err
	}

	cp, err := w.checkpoint(name, StepKindStep)
	if err != nil {
		return nil, err
	}
	if cp.Completed {
		w.logger.Debug("skipping memoized step",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", name),
		)
		return cp.Output, nil
	}

	start := w.now()
	out, stepErr := invokeStep(w.ctx, fn)
	elapsed := w.now().Sub(start)

	var data json.RawMessage
	if stepErr == nil {
		data, stepErr = json.Marshal(out)
		if stepErr != nil {
			stepErr = retry.Permanent(fmt.Errorf("encode step output: %w", stepErr))
		}
	}

	cp.Attempts++
	cp.UpdatedAt = w.now()
	if stepErr != nil {
		return nil, w.failStep(cp, stepErr)
	}

	cp.Output = data
	cp.Completed = true
	cp.LastError = ""
	if saveErr := w.store.SaveCheckpoint(w.ctx, cp); saveErr != nil {
		return nil, w.infra(fmt.Errorf("workflow %s: save step %q: %w", w.run.WorkflowID, name, saveErr))
	}

	w.emitter.EmitStepCompleted(w.ctx, w.run, name, elapsed)
	return data, nil
}

// failStep persists the attempt count and asks the coordinator what to do
// next. It always returns a non-nil error that stops the execution.
func (w *Workflow) failStep(cp *Checkpoint, stepErr error) error {
	cp.LastError = stepErr.Error()
	if saveErr := w.store.SaveCheckpoint(w.ctx, cp); saveErr != nil {
		return w.infra(fmt.Errorf("workflow %s: save attempts of step %q: %w", w.run.WorkflowID, cp.StepName, saveErr))
	}

	w.emitter.EmitStepFailed(w.ctx, w.run, cp.StepName, cp.Attempts, stepErr)

	decision := w.coordinator.Decide(cp.Attempts, w.maxAttempts, stepErr)
	if decision.Action == retry.ActionRetry {
		w.halt = &interrupt{
			kind:    interruptRetry,
			step:    cp.StepName,
			at:      w.now().Add(decision.Delay),
			attempt: cp.Attempts,
			err:     stepErr,
		}
		return w.halt
	}

	w.halt = &interrupt{
		kind:    interruptFail,
		step:    cp.StepName,
		attempt: cp.Attempts,
		err:     &orquesta.StepFailure{Step: cp.StepName, Attempts: cp.Attempts, Err: decision.Err},
	}
	return w.halt
}

func (w *Workflow) sleep(name string, wake func(now time.Time) time.Time) error {
	if err := w.enter(name); err != nil {
		return err
	}

	cp, err := w.checkpoint(name, StepKindSleep)
	if err != nil {
		return err
	}
	if cp.Completed {
		return nil
	}

	now := w.now()
	if cp.WakeAt == nil {
		at := wake(now)
		cp.WakeAt = &at
		cp.UpdatedAt = now
		if saveErr := w.store.SaveCheckpoint(w.ctx, cp); saveErr != nil {
			return w.infra(fmt.Errorf("workflow %s: save sleep %q: %w", w.run.WorkflowID, name, saveErr))
		}
	}

	if now.Before(*cp.WakeAt) {
		w.halt = &interrupt{kind: interruptSleep, step: name, at: *cp.WakeAt}
		return w.halt
	}

	cp.Completed = true
	cp.UpdatedAt = now
	if saveErr := w.store.SaveCheckpoint(w.ctx, cp); saveErr != nil {
		return w.infra(fmt.Errorf("workflow %s: complete sleep %q: %w", w.run.WorkflowID, name, saveErr))
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, name, now.Sub(cp.CreatedAt))
	return nil
}

// enter registers a step boundary: it rejects duplicate names, stops a
// halted execution, and notices cancellation.
func (w *Workflow) enter(name string) error {
	if w.halt != nil {
		return w.halt
	}
	if w.infraErr != nil {
		return w.infraErr
	}
	if err := w.ctx.Err(); err != nil {
		return w.infra(err)
	}
	if _, dup := w.seen[name]; dup {
		w.halt = &interrupt{
			kind: interruptFail,
			step: name,
			err:  retry.Permanent(fmt.Errorf("%w: %q", orquesta.ErrDuplicateStep, name)),
		}
		return w.halt
	}
	w.seen[name] = struct{}{}
	w.seq++

	current, err := w.store.GetRun(w.ctx, w.run.ID)
	if err != nil {
		return w.infra(fmt.Errorf("workflow %s: reload run: %w", w.run.WorkflowID, err))
	}
	if current.State == RunStateCancelled {
		w.halt = &interrupt{kind: interruptCancel, step: name, err: orquesta.ErrRunCancelled}
		return w.halt
	}
	return w.renewLease()
}

// renewLease extends the run lock before the next step. Losing it means
// another execution may own the run, so this one stops without writing.
func (w *Workflow) renewLease() error {
	if w.lease == "" {
		return nil
	}
	held, err := w.store.AcquireRunLock(w.ctx, w.run.ID, w.lease, w.lockTTL)
	if err != nil {
		return w.infra(fmt.Errorf("workflow %s: renew run lock: %w", w.run.WorkflowID, err))
	}
	if !held {
		return w.infra(fmt.Errorf("workflow %s: run lock lost: %w", w.run.WorkflowID, orquesta.ErrRunLocked))
	}
	return nil
}

// checkpoint loads the step state, or builds a fresh one.
func (w *Workflow) checkpoint(name string, kind StepKind) (*Checkpoint, error) {
	cp, err := w.store.GetCheckpoint(w.ctx, w.run.ID, name)
	if err != nil {
		return nil, w.infra(fmt.Errorf("workflow %s: load step %q: %w", w.run.WorkflowID, name, err))
	}
	if cp != nil {
		return cp, nil
	}
	now := w.now()
	return &Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     w.run.ID,
		StepName:  name,
		Kind:      kind,
		Seq:       w.seq,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (w *Workflow) infra(err error) error {
	if w.infraErr == nil {
		w.infraErr = err
	}
	return w.infraErr
}

// invokeStep runs fn, converting a panic into a step error.
func invokeStep(ctx context.Context, fn func(ctx context.Context) (any, error)) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// isInterrupt reports whether err carries an interrupt.
func isInterrupt(err error) bool {
	var i *interrupt
	return errors.As(err, &i)
}
