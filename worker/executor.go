// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
	"github.com/orquesta/orquesta/middleware"
	"github.com/orquesta/orquesta/retry"
)

// FailureHandler is told about jobs that exhausted their retries. The
// engine uses it to fail the run a job was driving.
type FailureHandler interface {
	JobFailed(ctx context.Context, j *job.Job, err error)
}

// Executor runs a single job through middleware and the registered handler,
// then handles snoozes, retries and terminal failures.
type Executor struct {
	registry  *job.Registry
	store     job.Store
	onFailure FailureHandler
	backoff   retry.Backoff
	mw        middleware.Middleware
	logger    *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. onFailure
// may be nil.
func NewExecutor(
	registry *job.Registry,
	store job.Store,
	onFailure FailureHandler,
	bo retry.Backoff,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = retry.DefaultBackoff()
	}
	return &Executor{
		registry:  registry,
		store:     store,
		onFailure: onFailure,
		backoff:   bo,
		mw:        middleware.Chain(mws...),
		logger:    logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed.
// On snooze: returns the job to pending at the requested time.
// On failure with retries remaining: marks retrying with backoff.
// On failure with retries exhausted: marks failed and notifies the
// failure handler.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err := fmt.Errorf("no handler registered for job %q", j.Name)
		j.RetryCount = j.MaxRetries
		return e.handleFailure(ctx, j, err, time.Now().UTC())
	}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if until, ok := job.AsSnooze(err); ok {
		return e.snooze(ctx, j, until)
	}
	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now)
}

// handleSuccess marks the job as completed.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}
	return nil
}

// snooze parks the job until the given time without touching its retry
// budget. The worker slot is released immediately.
func (e *Executor) snooze(ctx context.Context, j *job.Job, until time.Time) error {
	j.State = job.StatePending
	j.RunAt = until.UTC()
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to snooze job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}
	return nil
}

// handleFailure increments the retry counter and either retries or gives
// up. Permanent errors give up at once.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.RetryCount++
	j.LastError = handlerErr.Error()

	if j.RetryCount <= j.MaxRetries && !retry.IsPermanent(handlerErr) {
		return e.scheduleRetry(ctx, j, now)
	}
	return e.giveUp(ctx, j, handlerErr)
}

// scheduleRetry sets the job to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := e.backoff.Delay(j.RetryCount)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s retry %d/%d: %s", j.Name, j.RetryCount, j.MaxRetries, j.LastError)
}

// giveUp marks the job as failed and notifies the failure handler.
func (e *Executor) giveUp(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.onFailure != nil {
		e.onFailure.JobFailed(ctx, j, handlerErr)
	}

	e.logger.Warn("job failed after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
