package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
)

// QueueManager admits claimed jobs. queue.Manager satisfies it.
type QueueManager interface {
	// Admit takes a slot for one execution. When it refuses, retryAfter
	// is the earliest the job may be tried again, or zero if unknown.
	Admit(queue, partition string) (retryAfter time.Duration, ok bool)
	// Release gives back a slot taken by Admit.
	Release(queue, partition string)
}

// PoolStats is a snapshot of pool activity since Start.
type PoolStats struct {
	WorkerID string `json:"worker_id"`
	Active   int    `json:"active"`
	Claimed  uint64 `json:"claimed"`
	Deferred uint64 `json:"deferred"`
	Reaped   uint64 `json:"reaped"`
}

// Pool claims jobs from the store and executes them. Every claim gets its
// own token, which the handler reads with job.ClaimFrom; the engine locks
// the run with it, so two deliveries of one run never act as one owner.
type Pool struct {
	store        job.Store
	executor     *Executor
	logger       *slog.Logger
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	queueManager QueueManager

	// heartbeatInterval renews claims; staleJobThreshold reclaims jobs
	// whose worker stopped renewing. Zero disables either loop.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	seq      atomic.Uint64
	claimed  atomic.Uint64
	deferred atomic.Uint64
	reaped   atomic.Uint64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	abort   context.CancelFunc
	base    context.Context
	wg      sync.WaitGroup

	claimsMu sync.Mutex
	claims   map[string]job.Claim
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets how many jobs execute at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool claims from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets the idle wait between empty claims.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often active claims are renewed.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how old a claim's heartbeat may get before
// the job is returned to pending.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithWorkerID sets the identity the pool claims jobs under.
func WithWorkerID(w id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = w }
}

// WithQueueManager sets the admission control applied after each claim.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		logger:       logger,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		claims:       make(map[string]job.Claim),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the identity the pool claims jobs under.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	p.claimsMu.Lock()
	active := len(p.claims)
	p.claimsMu.Unlock()
	return PoolStats{
		WorkerID: p.workerID.String(),
		Active:   active,
		Claimed:  p.claimed.Load(),
		Deferred: p.deferred.Load(),
		Reaped:   p.reaped.Load(),
	}
}

// Start launches the workers and returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stop = make(chan struct{})
	p.base, p.abort = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)
	for range p.concurrency {
		p.spawn(p.work)
	}
	if p.heartbeatInterval > 0 {
		p.spawn(func() { p.every(p.heartbeatInterval, p.renewClaims) })
	}
	if p.staleJobThreshold > 0 {
		p.spawn(func() { p.every(p.staleJobThreshold, p.reclaimStale) })
	}
	return nil
}

// Stop stops claiming and waits for in-flight jobs. When ctx ends first,
// the jobs' contexts are cancelled; their runs stay locked until the
// lease expires and the jobs are reclaimed as stale.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	abort := p.abort
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, abandoning active jobs",
			slog.Int("active", p.Stats().Active),
		)
		abort()
		<-done
	}
	abort()
	return nil
}

func (p *Pool) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Pool) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// work claims and executes one job at a time until Stop.
func (p *Pool) work() {
	for !p.stopping() {
		jobs, err := p.store.DequeueJobs(p.base, p.queues, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.idle()
			continue
		}
		if len(jobs) == 0 {
			p.idle()
			continue
		}
		if j := jobs[0]; p.admit(j) {
			p.execute(j)
		}
	}
}

// admit applies the queue manager. A refused job goes back to pending
// without spending a retry.
func (p *Pool) admit(j *job.Job) bool {
	if p.queueManager == nil {
		return true
	}
	wait, ok := p.queueManager.Admit(j.Queue, j.Partition)
	if ok {
		return true
	}
	if wait <= 0 {
		wait = p.pollInterval
	}
	p.deferred.Add(1)
	j.State = job.StatePending
	j.RunAt = time.Now().UTC().Add(wait)
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to defer job",
			slog.String("job_id", j.ID.String()),
			slog.String("partition", j.Partition),
			slog.String("error", err.Error()),
		)
	}
	return false
}

func (p *Pool) execute(j *job.Job) {
	c := job.Claim{
		JobID:     j.ID,
		WorkerID:  p.workerID,
		Token:     fmt.Sprintf("%s/%s/%d", p.workerID, j.ID, p.seq.Add(1)),
		ClaimedAt: time.Now().UTC(),
	}
	p.claimed.Add(1)
	p.hold(c)
	defer func() {
		p.drop(c)
		if p.queueManager != nil {
			p.queueManager.Release(j.Queue, j.Partition)
		}
	}()

	ctx, cancel := context.WithCancel(job.WithClaim(p.base, c))
	defer cancel()
	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("claim", c.Token),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) every(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (p *Pool) renewClaims() {
	p.claimsMu.Lock()
	active := make([]job.Claim, 0, len(p.claims))
	for _, c := range p.claims {
		active = append(active, c)
	}
	p.claimsMu.Unlock()

	for _, c := range active {
		if err := p.store.HeartbeatJob(context.Background(), c.JobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", c.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reclaimStale returns jobs of crashed workers to pending. Their runs are
// still guarded by the run lock until its lease expires.
func (p *Pool) reclaimStale() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}
	for _, j := range stale {
		j.State = job.StatePending
		j.RunAt = time.Now().UTC()
		j.WorkerID = id.WorkerID{}
		j.HeartbeatAt = nil
		j.StartedAt = nil
		if err := p.store.UpdateJob(context.Background(), j); err != nil {
			p.logger.Error("failed to reclaim stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.reaped.Add(1)
		p.logger.Info("reclaimed stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("partition", j.Partition),
		)
	}
}

func (p *Pool) idle() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stop:
	}
}

func (p *Pool) hold(c job.Claim) {
	p.claimsMu.Lock()
	p.claims[c.Token] = c
	p.claimsMu.Unlock()
}

func (p *Pool) drop(c job.Claim) {
	p.claimsMu.Lock()
	delete(p.claims, c.Token)
	p.claimsMu.Unlock()
}
