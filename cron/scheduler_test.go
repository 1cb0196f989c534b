package cron_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/store/memory"
)

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	names []string
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, _ id.RunID) {
	e.mu.Lock()
	e.names = append(e.names, entryName)
	e.mu.Unlock()
}

func (e *stubEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

// fireSpy records fired ticks. Runs are deduped by tick key the way the
// run store dedupes idempotency keys.
type fireSpy struct {
	mu    sync.Mutex
	keys  map[string]int
	fails int
}

func newFireSpy() *fireSpy { return &fireSpy{keys: make(map[string]int)} }

func (f *fireSpy) Fn() cron.FireFunc {
	return func(_ context.Context, entry *cron.Entry, tick time.Time) (id.RunID, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fails > 0 {
			f.fails--
			return id.RunID{}, errors.New("store unavailable")
		}
		f.keys[cron.TickKey(entry.ID, tick)]++
		return id.NewRunID(), nil
	}
}

// runs is the number of distinct ticks that started a run.
func (f *fireSpy) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registerDueEntry(t *testing.T, s *memory.Store, name, schedule string, due time.Time) *cron.Entry {
	t.Helper()
	entry := &cron.Entry{
		Entity:     orquesta.NewEntity(),
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		WorkflowID: name,
		NextRunAt:  &due,
		Enabled:    true,
	}
	if err := s.RegisterCron(context.Background(), entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	return entry
}

func becomeLeader(t *testing.T, s *memory.Store, workerID id.WorkerID) {
	t.Helper()
	ctx := context.Background()
	w := &cluster.Worker{
		ID:        workerID,
		Hostname:  "test-host",
		State:     cluster.WorkerActive,
		LastSeen:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	acquired, err := s.AcquireLeadership(ctx, workerID, 30*time.Second)
	if err != nil || !acquired {
		t.Fatalf("AcquireLeadership: acquired=%v err=%v", acquired, err)
	}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestScheduler_RunDueFiresOncePerTick(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	emitter := &stubEmitter{}
	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	due := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := registerDueEntry(t, s, "reporte-periodico", "0 */2 * * *", due)

	sched := cron.NewScheduler(s, s, spy.Fn(), emitter, id.NewWorkerID(), silentLogger(),
		cron.WithClock(fixedClock(now)))

	fired, err := sched.RunDue(context.Background())
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Same instant again: the tick is already claimed.
	fired, _ = sched.RunDue(context.Background())
	if fired != 0 {
		t.Errorf("second RunDue fired %d, want 0", fired)
	}

	got, err := s.GetCron(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	wantNext := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(due) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, due)
	}
	if emitter.count() != 1 {
		t.Errorf("EmitCronFired calls = %d, want 1", emitter.count())
	}
}

func TestScheduler_ConcurrentSchedulersFireOnce(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	now := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	registerDueEntry(t, s, "reporte-periodico", "0 */2 * * *", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for range 8 {
		sched := cron.NewScheduler(s, s, spy.Fn(), nil, id.NewWorkerID(), silentLogger(),
			cron.WithClock(fixedClock(now)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sched.RunDue(context.Background())
		}()
	}
	wg.Wait()

	if spy.runs() != 1 {
		t.Errorf("runs = %d, want exactly 1", spy.runs())
	}
}

func TestScheduler_MissedTicksFireOnce(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	// Three ticks were missed while nothing was running.
	due := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	entry := registerDueEntry(t, s, "reporte-periodico", "0 */2 * * *", due)

	sched := cron.NewScheduler(s, s, spy.Fn(), nil, id.NewWorkerID(), silentLogger(),
		cron.WithClock(fixedClock(now)))
	if _, err := sched.RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if _, err := sched.RunDue(context.Background()); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	if spy.runs() != 1 {
		t.Errorf("runs = %d, want 1", spy.runs())
	}
	got, _ := s.GetCron(context.Background(), entry.ID)
	if want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC); !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, want)
	}
}

func TestScheduler_FailedFireIsRetried(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	spy.fails = 1
	due := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := registerDueEntry(t, s, "reporte-periodico", "0 */2 * * *", due)

	sched := cron.NewScheduler(s, s, spy.Fn(), nil, id.NewWorkerID(), silentLogger(),
		cron.WithClock(fixedClock(due.Add(time.Second))))

	if fired, _ := sched.RunDue(context.Background()); fired != 0 {
		t.Fatalf("fired = %d on failing fire, want 0", fired)
	}
	got, _ := s.GetCron(context.Background(), entry.ID)
	if !got.NextRunAt.Equal(due) {
		t.Fatalf("NextRunAt = %v, want the tick still due (%v)", got.NextRunAt, due)
	}

	if fired, _ := sched.RunDue(context.Background()); fired != 1 {
		t.Fatalf("fired = %d on retry, want 1", fired)
	}
	if spy.runs() != 1 {
		t.Errorf("runs = %d, want 1", spy.runs())
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	entry := registerDueEntry(t, s, "apagado", "@every 1s", time.Now().UTC().Add(-time.Second))

	sched := cron.NewScheduler(s, s, spy.Fn(), nil, id.NewWorkerID(), silentLogger())
	if _, err := sched.SetEnabled(context.Background(), entry.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if fired, _ := sched.RunDue(context.Background()); fired != 0 {
		t.Errorf("disabled entry fired %d times", fired)
	}
}

func TestScheduler_RegisterIsIdempotent(t *testing.T) {
	s := memory.New()
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	sched := cron.NewScheduler(s, s, newFireSpy().Fn(), nil, id.NewWorkerID(), silentLogger(),
		cron.WithClock(fixedClock(now)))

	first, err := sched.Register(context.Background(), "reporte-periodico", "0 */2 * * *", "reporte-periodico")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := sched.Register(context.Background(), "reporte-periodico", "0 */2 * * *", "reporte-periodico")
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if first.ID.String() != second.ID.String() {
		t.Errorf("re-registering created a new entry: %s != %s", first.ID, second.ID)
	}
	if want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC); !second.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", second.NextRunAt, want)
	}

	entries, _ := s.ListCrons(context.Background())
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}

	if _, err := sched.Register(context.Background(), "malo", "not a cron", "malo"); err == nil {
		t.Error("expected invalid schedule to be rejected")
	}
}

func TestScheduler_LeaderFiresOnStart(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	workerID := id.NewWorkerID()
	becomeLeader(t, s, workerID)
	registerDueEntry(t, s, "cada-segundo", "@every 1s", time.Now().UTC().Add(-time.Second))

	sched := cron.NewScheduler(s, s, spy.Fn(), nil, workerID, silentLogger(),
		cron.WithTickInterval(20*time.Millisecond),
		cron.WithLeaderTTL(10*time.Second),
	)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for spy.runs() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cron to fire")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestScheduler_NonLeaderSkips(t *testing.T) {
	s := memory.New()
	spy := newFireSpy()
	leaderID := id.NewWorkerID()
	becomeLeader(t, s, leaderID)
	registerDueEntry(t, s, "solo-lider", "@every 1s", time.Now().UTC().Add(-time.Second))

	sched := cron.NewScheduler(s, s, spy.Fn(), nil, id.NewWorkerID(), silentLogger(),
		cron.WithTickInterval(20*time.Millisecond),
		cron.WithLeaderTTL(10*time.Second),
	)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if spy.runs() != 0 {
		t.Errorf("non-leader fired %d times", spy.runs())
	}
}

func TestTickKey(t *testing.T) {
	entryID := id.NewCronID()
	tick := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := fmt.Sprintf("cron:%s:2026-03-01T10:00:00Z", entryID)
	if got := cron.TickKey(entryID, tick); got != want {
		t.Errorf("TickKey = %q, want %q", got, want)
	}
}

func TestParseSchedule(t *testing.T) {
	now := time.Now().UTC()
	for _, expr := range []string{"@every 30s", "*/5 * * * *", "0 */2 * * *"} {
		sched, err := cron.ParseSchedule(expr)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", expr, err)
		}
		if next := sched.Next(now); !next.After(now) {
			t.Errorf("%q: Next(%v) = %v, expected future time", expr, now, next)
		}
	}

	if _, err := cron.ParseSchedule("not-a-cron"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
