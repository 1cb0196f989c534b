package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/ext"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
	mw "github.com/orquesta/orquesta/middleware"
	"github.com/orquesta/orquesta/observability"
	"github.com/orquesta/orquesta/queue"
	"github.com/orquesta/orquesta/retry"
	"github.com/orquesta/orquesta/store"
	"github.com/orquesta/orquesta/worker"
	"github.com/orquesta/orquesta/workflow"
)

// RunJobName is the job that executes a workflow run once. Its payload
// names the run; its partition is the workflow ID.
const RunJobName = "orquesta/run.execute"

const instrumentationName = "github.com/orquesta/orquesta"

type runPayload struct {
	RunID string `json:"run_id"`
}

// Engine owns every subsystem of one orquesta process.
type Engine struct {
	store      store.Store
	config     orquesta.Config
	logger     *slog.Logger
	workerID   id.WorkerID
	extensions *ext.Registry
	jobs       *job.Registry
	registry   *workflow.Registry
	runner     *workflow.Runner
	bus        *event.Bus
	dlqService *dlq.Service
	scheduler  *cron.Scheduler
	pool       *worker.Pool
	queues     *queue.Manager

	// Collected by options, consumed by New.
	pendingExts    []ext.Extension
	mws            []mw.Middleware
	backoff        retry.Backoff
	queueConfigs   []queue.Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
}

// New builds an engine over s. Definitions are added with Register and
// nothing runs until Start.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, orquesta.ErrNoStore
	}

	eng := &Engine{
		store:    s,
		config:   orquesta.DefaultConfig(),
		logger:   slog.Default(),
		workerID: id.NewWorkerID(),
		jobs:     job.NewRegistry(),
		registry: workflow.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if len(eng.config.Queues) == 0 {
		eng.config.Queues = []string{"default"}
	}
	if eng.backoff == nil {
		eng.backoff = retry.DefaultBackoff()
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	eng.dlqService = dlq.NewService(s, nil)
	eng.runner = workflow.NewRunner(eng.registry, s, eng, eng.extensions, eng.logger,
		workflow.WithDeadLetter(eng.dlqService),
		workflow.WithCoordinator(retry.NewCoordinator(eng.backoff)),
		workflow.WithWorkerID(eng.workerID),
		workflow.WithLockTTL(eng.config.RunLockTTL),
		workflow.WithDefaultRetries(eng.config.DefaultRetries),
	)
	eng.dlqService.SetReplayer(eng.runner)
	eng.bus = event.NewBus(s, eng.runner, eng.extensions, eng.logger)

	eng.scheduler = cron.NewScheduler(s, s, eng.fireCron, eng.extensions, eng.workerID, eng.logger,
		cron.WithTickInterval(eng.config.CronTickInterval),
		cron.WithLeaderTTL(eng.config.LeaderTTL),
	)

	eng.jobs.Register(RunJobName, eng.executeRun)
	eng.queues = queue.NewManager(eng.queueConfigs...)
	executor := worker.NewExecutor(eng.jobs, s, eng, eng.backoff, eng.logger, eng.middlewares()...)
	eng.pool = worker.NewPool(s, executor, eng.logger,
		worker.WithWorkerID(eng.workerID),
		worker.WithPoolConcurrency(eng.config.Concurrency),
		worker.WithPoolQueues(eng.config.Queues),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
		worker.WithStaleJobThreshold(eng.config.StaleJobThreshold),
		worker.WithQueueManager(eng.queues),
	)
	return eng, nil
}

// middlewares builds the default chain: recover, tracing, metrics,
// logging, timeout, then user middleware.
func (eng *Engine) middlewares() []mw.Middleware {
	var tracingMw, metricsMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	out := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger, eng.config.RunLockTTL),
	}
	return append(out, eng.mws...)
}

// Register adds workflow definitions. Definitions with a Concurrency or
// RateLimit get a partition limit on the run queue. Cron triggers are
// persisted when the engine starts, or immediately if it already has.
func (eng *Engine) Register(defs ...*workflow.Definition) error {
	for _, def := range defs {
		if err := eng.registry.Register(def); err != nil {
			return err
		}
		if def.Concurrency > 0 || def.RateLimit > 0 {
			eng.queues.SetPartitionConfig(queue.PartitionConfig{
				QueueName:      eng.runQueue(),
				Partition:      def.ID,
				MaxConcurrency: def.Concurrency,
				RateLimit:      def.RateLimit,
			})
		}
		eng.logger.Info("workflow registered",
			slog.String("workflow", def.ID),
			slog.Int("triggers", len(def.Triggers)),
		)
	}

	eng.mu.Lock()
	started := eng.started
	eng.mu.Unlock()
	if started {
		return eng.registerCrons(context.Background(), defs)
	}
	return nil
}

// registerCrons persists one entry per cron trigger. The first entry of a
// workflow is named after it; further ones get a numeric suffix.
func (eng *Engine) registerCrons(ctx context.Context, defs []*workflow.Definition) error {
	for _, def := range defs {
		n := 0
		for _, t := range def.Triggers {
			if t.Cron == "" {
				continue
			}
			n++
			name := def.ID
			if n > 1 {
				name = fmt.Sprintf("%s#%d", def.ID, n)
			}
			entry, err := eng.scheduler.Register(ctx, name, t.Cron, def.ID)
			if errors.Is(err, orquesta.ErrDuplicateCron) {
				// Another process created it between our list and insert.
				entry, err = eng.scheduler.Register(ctx, name, t.Cron, def.ID)
			}
			if err != nil {
				return fmt.Errorf("register cron for workflow %q: %w", def.ID, err)
			}
			eng.logger.Info("cron registered",
				slog.String("cron_name", entry.Name),
				slog.String("schedule", entry.Schedule),
				slog.String("workflow", def.ID),
			)
		}
	}
	return nil
}

// Start registers this process in the cluster, persists cron triggers and
// starts the scheduler and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = true
	eng.mu.Unlock()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:          eng.workerID,
		Hostname:    hostname,
		Queues:      eng.config.Queues,
		Concurrency: eng.config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if regErr := eng.store.RegisterWorker(ctx, w); regErr != nil {
		eng.logger.Warn("failed to register worker in cluster store", slog.String("error", regErr.Error()))
	}

	if err := eng.registerCrons(ctx, eng.registry.Definitions()); err != nil {
		return err
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	eng.logger.Info("orquesta engine started",
		slog.String("worker_id", eng.workerID.String()),
		slog.Int("workflows", len(eng.registry.Definitions())),
	)
	return nil
}

// Stop drains the worker pool, stops the scheduler and leaves the cluster.
// ctx bounds how long in-flight executions may take to finish.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = false
	eng.mu.Unlock()

	var errs []error
	if err := eng.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop cron scheduler: %w", err))
	}
	if err := eng.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
	}
	if err := eng.store.DeregisterWorker(context.WithoutCancel(ctx), eng.workerID); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}
	eng.extensions.EmitShutdown(ctx)
	return errors.Join(errs...)
}

// Send records an event and starts every run it triggers. It returns once
// the runs are queued.
func (eng *Engine) Send(ctx context.Context, name string, payload []byte) (*event.Event, []id.RunID, error) {
	return eng.bus.Send(ctx, name, payload)
}

// SendJSON marshals payload and calls Send.
func (eng *Engine) SendJSON(ctx context.Context, name string, payload any) (*event.Event, []id.RunID, error) {
	return eng.bus.SendJSON(ctx, name, payload)
}

// Cancel stops a run at its next step boundary.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.runner.Cancel(ctx, runID)
}

// GetRun returns a run by ID.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.store.GetRun(ctx, runID)
}

// ListRuns returns runs, newest first.
func (eng *Engine) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	return eng.store.ListRuns(ctx, opts)
}

// Steps returns the step states of a run in handler order.
func (eng *Engine) Steps(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	return eng.runner.Steps(ctx, runID)
}

// Crons returns every persisted cron entry.
func (eng *Engine) Crons(ctx context.Context) ([]*cron.Entry, error) {
	return eng.store.ListCrons(ctx)
}

// EnqueueRun schedules one execution of run. A run with WakeAt set is
// executed no earlier than that. It implements workflow.Enqueuer.
func (eng *Engine) EnqueueRun(ctx context.Context, run *workflow.Run) error {
	payload, err := json.Marshal(runPayload{RunID: run.ID.String()})
	if err != nil {
		return err
	}
	opts := []job.Option{
		job.WithQueue(eng.runQueue()),
		job.WithPartition(run.WorkflowID),
		job.WithTimeout(eng.config.RunLockTTL),
	}
	if run.WakeAt != nil {
		opts = append(opts, job.WithRunAt(*run.WakeAt))
	}
	return eng.store.EnqueueJob(ctx, job.New(RunJobName, payload, opts...))
}

// PendingExecution reports whether run has an execution job that is due,
// waiting to retry or in flight. It implements workflow.Enqueuer.
func (eng *Engine) PendingExecution(ctx context.Context, runID id.RunID) (bool, error) {
	want := runID.String()
	for _, state := range []job.State{job.StatePending, job.StateRetrying, job.StateRunning} {
		jobs, err := eng.store.ListJobsByState(ctx, state, job.ListOpts{Queue: eng.runQueue()})
		if err != nil {
			return false, fmt.Errorf("list %s jobs: %w", state, err)
		}
		for _, j := range jobs {
			if j.Name != RunJobName {
				continue
			}
			if got, err := decodeRunPayload(j.Payload); err == nil && got.String() == want {
				return true, nil
			}
		}
	}
	return false, nil
}

// executeRun is the handler of RunJobName. A parked run snoozes the job
// until it is due; a run locked elsewhere snoozes briefly.
func (eng *Engine) executeRun(ctx context.Context, payload []byte) error {
	runID, err := decodeRunPayload(payload)
	if err != nil {
		return retry.Permanent(err)
	}

	if c, ok := job.ClaimFrom(ctx); ok {
		ctx = workflow.WithLease(ctx, c.Token)
	}
	res, err := eng.runner.Execute(ctx, runID)
	switch {
	case errors.Is(err, orquesta.ErrRunLocked):
		return job.Snooze(time.Now().UTC().Add(eng.config.LockRetryDelay))
	case errors.Is(err, orquesta.ErrRunNotFound):
		eng.logger.Warn("execution job for unknown run", slog.String("run_id", runID.String()))
		return nil
	case err != nil:
		return err
	}
	if !res.ResumeAt.IsZero() {
		return job.Snooze(res.ResumeAt)
	}
	return nil
}

// JobFailed fails the run of an execution job that exhausted its
// retries. It implements worker.FailureHandler.
func (eng *Engine) JobFailed(ctx context.Context, j *job.Job, err error) {
	if j.Name != RunJobName {
		return
	}
	runID, decErr := decodeRunPayload(j.Payload)
	if decErr != nil {
		eng.logger.Error("failed execution job has a bad payload",
			slog.String("job_id", j.ID.String()),
			slog.String("error", decErr.Error()),
		)
		return
	}
	if _, abortErr := eng.runner.Abort(ctx, runID, err); abortErr != nil {
		eng.logger.Error("failed to abort run",
			slog.String("run_id", runID.String()),
			slog.String("error", abortErr.Error()),
		)
	}
}

// fireCron starts the run of one cron tick. A tick that already has a run
// counts as fired.
func (eng *Engine) fireCron(ctx context.Context, entry *cron.Entry, tick time.Time) (id.RunID, error) {
	run, err := eng.runner.StartCron(ctx, entry.WorkflowID, entry.Schedule, tick, cron.TickKey(entry.ID, tick))
	if errors.Is(err, orquesta.ErrRunAlreadyExists) {
		return id.Nil, nil
	}
	if err != nil {
		return id.Nil, err
	}
	return run.ID, nil
}

func (eng *Engine) runQueue() string { return eng.config.Queues[0] }

func decodeRunPayload(payload []byte) (id.RunID, error) {
	var p runPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return id.Nil, fmt.Errorf("decode run job payload: %w", err)
	}
	return id.ParseRunID(p.RunID)
}

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the effective engine configuration.
func (eng *Engine) Config() orquesta.Config { return eng.config }

// WorkerID returns the identity of this process in the cluster.
func (eng *Engine) WorkerID() id.WorkerID { return eng.workerID }

// Registry returns the workflow registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// PoolStats reports the activity of the local worker pool.
func (eng *Engine) PoolStats() worker.PoolStats { return eng.pool.Stats() }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// EventBus returns the event bus.
func (eng *Engine) EventBus() *event.Bus { return eng.bus }

// DLQ returns the dead letter service for failed runs.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// QueueManager returns the queue and partition limiter.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queues }
