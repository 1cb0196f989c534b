package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
	"github.com/orquesta/orquesta/store/memory"
	"github.com/orquesta/orquesta/workflow"
)

func newRun(workflowID, key string) *workflow.Run {
	return &workflow.Run{
		Entity:         orquesta.NewEntity(),
		ID:             id.NewRunID(),
		WorkflowID:     workflowID,
		EventName:      "test/evento",
		State:          workflow.RunStateQueued,
		IdempotencyKey: key,
	}
}

func mustCreate(t *testing.T, s *memory.Store, run *workflow.Run) {
	t.Helper()
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

// ── Jobs ─────────────────────────────────────────

func TestDequeueJobs_PriorityThenRunAt(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	low := job.New("a", nil, job.WithRunAt(now.Add(-2*time.Second)))
	high := job.New("b", nil, job.WithRunAt(now.Add(-time.Second)), job.WithPriority(5))
	later := job.New("c", nil, job.WithRunAt(now.Add(time.Hour)))
	for _, j := range []*job.Job{low, high, later} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	got, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(got))
	}
	if got[0].ID.String() != high.ID.String() || got[1].ID.String() != low.ID.String() {
		t.Errorf("order = %s, %s", got[0].Name, got[1].Name)
	}
	if got[0].State != job.StateRunning {
		t.Errorf("state = %q, want running", got[0].State)
	}

	again, _ := s.DequeueJobs(ctx, []string{"default"}, 10)
	if len(again) != 0 {
		t.Errorf("running jobs dequeued twice: %d", len(again))
	}
}

func TestEnqueueJob_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	j := job.New("a", nil)
	_ = s.EnqueueJob(ctx, j)
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, orquesta.ErrJobAlreadyExists) {
		t.Errorf("err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestReapStaleJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	clock := now
	s := memory.New(memory.WithClock(func() time.Time { return clock }))

	_ = s.EnqueueJob(ctx, job.New("a", nil, job.WithRunAt(now)))
	if _, err := s.DequeueJobs(ctx, nil, 1); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	clock = now.Add(time.Minute)

	stale, err := s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("stale = %d, want 1", len(stale))
	}
}

func TestCountJobs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.EnqueueJob(ctx, job.New("a", nil))
	_ = s.EnqueueJob(ctx, job.New("b", nil, job.WithQueue("otra")))

	n, _ := s.CountJobs(ctx, job.CountOpts{Queue: "otra"})
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	n, _ = s.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

// ── Runs ─────────────────────────────────────────

func TestCreateRun_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	if err := s.CreateRun(ctx, newRun("wf", "k1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, newRun("wf", "k1")); !errors.Is(err, orquesta.ErrRunAlreadyExists) {
		t.Errorf("err = %v, want ErrRunAlreadyExists", err)
	}
	if err := s.CreateRun(ctx, newRun("wf", "")); err != nil {
		t.Errorf("empty key: %v", err)
	}
	if err := s.CreateRun(ctx, newRun("wf", "")); err != nil {
		t.Errorf("second empty key: %v", err)
	}
}

func TestGetRun_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	run := newRun("wf", "")
	mustCreate(t, s, run)

	got, _ := s.GetRun(ctx, run.ID)
	got.State = workflow.RunStateCompleted

	again, _ := s.GetRun(ctx, run.ID)
	if again.State != workflow.RunStateQueued {
		t.Errorf("stored run mutated through returned pointer: %q", again.State)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := memory.New()
	if _, err := s.GetRun(context.Background(), id.NewRunID()); !errors.Is(err, orquesta.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRunLock(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	clock := now
	s := memory.New(memory.WithClock(func() time.Time { return clock }))
	run := newRun("wf", "")
	mustCreate(t, s, run)
	worker := id.NewWorkerID().String()
	a, b := worker+"/job_1/1", worker+"/job_1/2"

	ok, err := s.AcquireRunLock(ctx, run.ID, a, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.AcquireRunLock(ctx, run.ID, b, time.Minute); ok {
		t.Error("second claim of the same worker acquired a held lock")
	}
	if ok, _ := s.AcquireRunLock(ctx, run.ID, a, time.Minute); !ok {
		t.Error("owner could not extend its lock")
	}

	// Releasing someone else's lock is a no-op.
	_ = s.ReleaseRunLock(ctx, run.ID, b)
	if ok, _ := s.AcquireRunLock(ctx, run.ID, b, time.Minute); ok {
		t.Error("foreign release dropped the lock")
	}

	clock = now.Add(2 * time.Minute)
	if ok, _ := s.AcquireRunLock(ctx, run.ID, b, time.Minute); !ok {
		t.Error("expired lock was not taken over")
	}
}

func TestUpdateRun_KeepsLock(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	run := newRun("wf", "")
	mustCreate(t, s, run)
	owner := "wkr_a/job_b/1"
	if ok, err := s.AcquireRunLock(ctx, run.ID, owner, time.Minute); !ok || err != nil {
		t.Fatalf("AcquireRunLock: %v %v", ok, err)
	}

	stale := *run
	stale.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, &stale); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.LockedBy != owner {
		t.Errorf("LockedBy = %q, want %q", got.LockedBy, owner)
	}
	if got.State != workflow.RunStateRunning {
		t.Errorf("State = %q", got.State)
	}
}

func TestRunLock_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	run := newRun("wf", "")
	mustCreate(t, s, run)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := s.AcquireRunLock(ctx, run.ID, fmt.Sprintf("wkr_shared/job_x/%d", i), time.Minute)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("lock winners = %d, want 1", wins)
	}
}

func TestTransitionRun_GuardsState(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	run := newRun("wf", "")
	mustCreate(t, s, run)

	next := *run
	next.State = workflow.RunStateCancelled
	wrote, err := s.TransitionRun(ctx, &next, workflow.RunStateQueued)
	if err != nil || !wrote {
		t.Fatalf("TransitionRun from queued: wrote=%v err=%v", wrote, err)
	}

	late := *run
	late.State = workflow.RunStateCompleted
	wrote, err = s.TransitionRun(ctx, &late, workflow.RunStateQueued, workflow.RunStateRunning)
	if err != nil || wrote {
		t.Fatalf("TransitionRun over a cancelled run: wrote=%v err=%v, want refused", wrote, err)
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.State != workflow.RunStateCancelled {
		t.Errorf("State = %q, want cancelled", got.State)
	}

	missing := newRun("wf", "")
	if _, err := s.TransitionRun(ctx, missing, workflow.RunStateQueued); !errors.Is(err, orquesta.ErrRunNotFound) {
		t.Errorf("missing run: err = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns_FiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	base := time.Now().UTC()
	for i, wf := range []string{"a", "b", "a"} {
		r := newRun(wf, "")
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		mustCreate(t, s, r)
	}

	runs, err := s.ListRuns(ctx, workflow.ListOpts{WorkflowID: "a"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if !runs[0].CreatedAt.After(runs[1].CreatedAt) {
		t.Error("runs not newest first")
	}

	limited, _ := s.ListRuns(ctx, workflow.ListOpts{Limit: 1, Offset: 1})
	if len(limited) != 1 {
		t.Errorf("paged len = %d, want 1", len(limited))
	}
}

// ── Checkpoints ──────────────────────────────────

func TestCheckpoint_CompletedIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	runID := id.NewRunID()

	done := &workflow.Checkpoint{
		ID: id.NewCheckpointID(), RunID: runID, StepName: "validar", Kind: workflow.StepKindStep,
		Output: []byte(`{"ok":true}`), Completed: true, Attempts: 1,
	}
	if err := s.SaveCheckpoint(ctx, done); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	overwrite := *done
	overwrite.Output = []byte(`{"ok":false}`)
	_ = s.SaveCheckpoint(ctx, &overwrite)

	got, err := s.GetCheckpoint(ctx, runID, "validar")
	if err != nil || got == nil {
		t.Fatalf("GetCheckpoint: %v %v", got, err)
	}
	if string(got.Output) != `{"ok":true}` {
		t.Errorf("Output = %s, want original", got.Output)
	}
}

func TestCheckpoint_MissingIsNil(t *testing.T) {
	s := memory.New()
	cp, err := s.GetCheckpoint(context.Background(), id.NewRunID(), "nada")
	if err != nil || cp != nil {
		t.Errorf("GetCheckpoint = %v, %v; want nil, nil", cp, err)
	}
}

func TestListCheckpoints_BySeq(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	runID := id.NewRunID()
	for _, c := range []struct {
		name string
		seq  int
	}{{"c", 2}, {"a", 0}, {"b", 1}} {
		_ = s.SaveCheckpoint(ctx, &workflow.Checkpoint{ID: id.NewCheckpointID(), RunID: runID, StepName: c.name, Seq: c.seq})
	}
	_ = s.SaveCheckpoint(ctx, &workflow.Checkpoint{ID: id.NewCheckpointID(), RunID: id.NewRunID(), StepName: "otro"})

	cps, _ := s.ListCheckpoints(ctx, runID)
	if len(cps) != 3 {
		t.Fatalf("len = %d, want 3", len(cps))
	}
	for i, want := range []string{"a", "b", "c"} {
		if cps[i].StepName != want {
			t.Errorf("cps[%d] = %q, want %q", i, cps[i].StepName, want)
		}
	}
}

// ── Cron ─────────────────────────────────────────

func TestClaimCronTick_CAS(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	tick := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	next := tick.Add(time.Hour)
	entry := &cron.Entry{Entity: orquesta.NewEntity(), ID: id.NewCronID(), Name: "reporte", Schedule: "@hourly", NextRunAt: &tick, Enabled: true}
	_ = s.RegisterCron(ctx, entry)

	won, err := s.ClaimCronTick(ctx, entry.ID, tick, next)
	if err != nil || !won {
		t.Fatalf("first claim: won=%v err=%v", won, err)
	}
	if won, _ := s.ClaimCronTick(ctx, entry.ID, tick, next); won {
		t.Error("second claim of the same tick won")
	}

	got, _ := s.GetCron(ctx, entry.ID)
	if !got.NextRunAt.Equal(next) || got.LastRunAt == nil || !got.LastRunAt.Equal(tick) {
		t.Errorf("after claim: next=%v last=%v", got.NextRunAt, got.LastRunAt)
	}
}

func TestRegisterCron_DuplicateName(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	mk := func() *cron.Entry {
		return &cron.Entry{Entity: orquesta.NewEntity(), ID: id.NewCronID(), Name: "reporte", Schedule: "@hourly"}
	}
	_ = s.RegisterCron(ctx, mk())
	if err := s.RegisterCron(ctx, mk()); !errors.Is(err, orquesta.ErrDuplicateCron) {
		t.Errorf("err = %v, want ErrDuplicateCron", err)
	}
}

// ── DLQ ──────────────────────────────────────────

func TestDLQ_ListPurgeCount(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	base := time.Now().UTC()
	for i, wf := range []string{"a", "b", "a"} {
		_ = s.PushDLQ(ctx, &dlq.Entry{ID: id.NewDLQID(), RunID: id.NewRunID(), WorkflowID: wf, FailedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	list, _ := s.ListDLQ(ctx, dlq.ListOpts{WorkflowID: "a"})
	if len(list) != 2 || !list[0].FailedAt.After(list[1].FailedAt) {
		t.Errorf("ListDLQ = %d entries, newest first expected", len(list))
	}

	n, _ := s.PurgeDLQ(ctx, base.Add(30*time.Second))
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	count, _ := s.CountDLQ(ctx)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, orquesta.ErrDLQNotFound) {
		t.Errorf("err = %v, want ErrDLQNotFound", err)
	}
}

// ── Events ───────────────────────────────────────

func TestEvents_ListByName(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	base := time.Now().UTC()
	for i, name := range []string{"pedido/nuevo", "usuario/registrado", "pedido/nuevo"} {
		_ = s.PublishEvent(ctx, &event.Event{ID: id.NewEventID(), Name: name, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	evts, _ := s.ListEvents(ctx, event.ListOpts{Name: "pedido/nuevo"})
	if len(evts) != 2 {
		t.Fatalf("len = %d, want 2", len(evts))
	}
	got, err := s.GetEvent(ctx, evts[0].ID)
	if err != nil || got.Name != "pedido/nuevo" {
		t.Errorf("GetEvent = %v, %v", got, err)
	}
	if _, err := s.GetEvent(ctx, id.NewEventID()); !errors.Is(err, orquesta.ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
}

// ── Cluster ──────────────────────────────────────

func TestLeadership(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	clock := now
	s := memory.New(memory.WithClock(func() time.Time { return clock }))
	a, b := id.NewWorkerID(), id.NewWorkerID()
	for _, w := range []id.WorkerID{a, b} {
		_ = s.RegisterWorker(ctx, &cluster.Worker{ID: w, State: cluster.WorkerActive, LastSeen: now, CreatedAt: now})
	}

	if ok, _ := s.AcquireLeadership(ctx, a, 10*time.Second); !ok {
		t.Fatal("a could not acquire leadership")
	}
	if ok, _ := s.AcquireLeadership(ctx, b, 10*time.Second); ok {
		t.Error("b acquired a held leadership")
	}
	if ok, _ := s.RenewLeadership(ctx, b, 10*time.Second); ok {
		t.Error("b renewed a lease it does not hold")
	}

	clock = now.Add(time.Minute)
	if leader, _ := s.GetLeader(ctx); leader != nil {
		t.Errorf("expired leader still reported: %v", leader.ID)
	}
	if ok, _ := s.RenewLeadership(ctx, a, 10*time.Second); ok {
		t.Error("a renewed an expired lease")
	}
	if ok, _ := s.AcquireLeadership(ctx, b, 10*time.Second); !ok {
		t.Fatal("b could not take over expired leadership")
	}
	leader, _ := s.GetLeader(ctx)
	if leader == nil || leader.ID.String() != b.String() {
		t.Errorf("leader = %v, want b", leader)
	}

	if err := s.DeregisterWorker(ctx, b); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if leader, _ := s.GetLeader(ctx); leader != nil {
		t.Error("deregistered worker still leader")
	}
}

func TestReapDeadWorkers(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := memory.New(memory.WithClock(func() time.Time { return now }))
	_ = s.RegisterWorker(ctx, &cluster.Worker{ID: id.NewWorkerID(), LastSeen: now.Add(-time.Hour)})
	_ = s.RegisterWorker(ctx, &cluster.Worker{ID: id.NewWorkerID(), LastSeen: now})

	dead, _ := s.ReapDeadWorkers(ctx, time.Minute)
	if len(dead) != 1 {
		t.Errorf("dead = %d, want 1", len(dead))
	}
	if err := s.HeartbeatWorker(ctx, id.NewWorkerID()); !errors.Is(err, orquesta.ErrWorkerNotFound) {
		t.Errorf("err = %v, want ErrWorkerNotFound", err)
	}
}
