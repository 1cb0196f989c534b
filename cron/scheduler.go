package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/id"
)

// FireFunc starts the run for one tick of entry, using TickKey as its
// idempotency key. The engine provides the implementation. A tick that
// already has a run must return success.
type FireFunc func(ctx context.Context, entry *Entry, tick time.Time) (id.RunID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, runID id.RunID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler runs cron entries on a tick loop. Only the cluster
// leader executes cron ticks.
type Scheduler struct {
	cronStore    Store
	clusterStore cluster.Store
	fire         FireFunc
	emitter      Emitter
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	tickInterval time.Duration
	leaderTTL    time.Duration

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	cronStore Store,
	clusterStore cluster.Store,
	fire FireFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cronStore:    cronStore,
		clusterStore: clusterStore,
		fire:         fire,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		tickInterval: 1 * time.Second,
		leaderTTL:    15 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the entry called name, or updates its schedule and
// workflow if it already exists. NextRunAt is recomputed only when the
// schedule changes, so restarts do not skip or repeat a tick.
func (s *Scheduler) Register(ctx context.Context, name, schedule, workflowID string) (*Entry, error) {
	sched, err := s.getOrParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("cron %q: invalid schedule %q: %w", name, schedule, err)
	}

	entries, err := s.cronStore.ListCrons(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		if e.Schedule == schedule && e.WorkflowID == workflowID {
			return e, nil
		}
		next := sched.Next(now)
		e.Schedule = schedule
		e.WorkflowID = workflowID
		e.NextRunAt = &next
		e.UpdatedAt = now
		if err := s.cronStore.UpdateCronEntry(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	}

	next := sched.Next(now)
	entry := &Entry{
		Entity:     orquesta.NewEntity(),
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		WorkflowID: workflowID,
		NextRunAt:  &next,
		Enabled:    true,
	}
	if err := s.cronStore.RegisterCron(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// SetEnabled enables or disables an entry. Enabling an entry schedules
// its next tick from now.
func (s *Scheduler) SetEnabled(ctx context.Context, entryID id.CronID, enabled bool) (*Entry, error) {
	entry, err := s.cronStore.GetCron(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Enabled == enabled {
		return entry, nil
	}
	now := s.now()
	entry.Enabled = enabled
	entry.UpdatedAt = now
	if enabled {
		sched, parseErr := s.getOrParseSchedule(entry.Schedule)
		if parseErr != nil {
			return nil, parseErr
		}
		next := sched.Next(now)
		entry.NextRunAt = &next
	}
	if err := s.cronStore.UpdateCronEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Start launches the leader election and cron tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership and
// keeps this worker's heartbeat fresh.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	renewInterval := s.leaderTTL / 2
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	// Try once immediately at start.
	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	if err := s.clusterStore.HeartbeatWorker(ctx, s.workerID); err != nil && !errors.Is(err, orquesta.ErrWorkerNotFound) {
		s.logger.Warn("worker heartbeat error", slog.String("error", err.Error()))
	}

	// Try to renew first (cheap if already leader).
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	// Not leader yet; try to acquire.
	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired cron leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and processes due cron entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return // Not the leader; skip.
	}

	if _, err := s.RunDue(ctx); err != nil {
		s.logger.Error("cron tick error", slog.String("error", err.Error()))
	}
}

// RunDue fires every enabled entry whose NextRunAt has passed and returns
// how many ticks this scheduler claimed. It does not check leadership.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	entries, err := s.cronStore.ListCrons(ctx)
	if err != nil {
		return 0, fmt.Errorf("list crons: %w", err)
	}

	now := s.now()
	fired := 0
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		if s.fireEntry(ctx, entry, now) {
			fired++
		}
	}
	return fired, nil
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) bool {
	sched, err := s.getOrParseSchedule(entry.Schedule)
	if err != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", err.Error()),
		)
		return false
	}

	tick := *entry.NextRunAt
	next := sched.Next(now)

	// Start the run before advancing the entry. The tick's idempotency
	// key makes a concurrent or repeated fire a no-op, and a failed fire
	// leaves the tick due for the next pass.
	runID, err := s.fire(ctx, entry, tick)
	if err != nil {
		s.logger.Error("cron fire error",
			slog.String("cron_name", entry.Name),
			slog.String("workflow", entry.WorkflowID),
			slog.String("error", err.Error()),
		)
		return false
	}

	claimed, err := s.cronStore.ClaimCronTick(ctx, entry.ID, tick, next)
	if err != nil {
		s.logger.Error("claim cron tick error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !claimed {
		return false // Another scheduler advanced it.
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, runID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.String("workflow", entry.WorkflowID),
		slog.String("run_id", runID.String()),
		slog.Time("tick", tick),
		slog.Time("next_run_at", next),
	)
	return true
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
