// Package storetest is a conformance suite every store.Store backend
// must pass.
package storetest

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
	"github.com/orquesta/orquesta/store"
	"github.com/orquesta/orquesta/workflow"
)

// Factory returns an empty, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"JobDequeueClaimsOnce", testJobDequeueClaimsOnce},
		{"JobSnoozeRequeues", testJobSnoozeRequeues},
		{"RunIdempotencyKey", testRunIdempotencyKey},
		{"RunLockSingleWriter", testRunLockSingleWriter},
		{"UpdateRunKeepsLock", testUpdateRunKeepsLock},
		{"TransitionRunSettlesOnce", testTransitionRunSettlesOnce},
		{"CheckpointCompletedIsFinal", testCheckpointCompletedIsFinal},
		{"CheckpointsOrderedBySeq", testCheckpointsOrderedBySeq},
		{"CronClaimTickOnce", testCronClaimTickOnce},
		{"CronDuplicateName", testCronDuplicateName},
		{"DLQLifecycle", testDLQLifecycle},
		{"EventsNewestFirst", testEventsNewestFirst},
		{"Leadership", testLeadership},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// second truncates to a precision every backend keeps.
func second(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

func newRun(key string) *workflow.Run {
	e := orquesta.NewEntity()
	e.CreatedAt, e.UpdatedAt = second(e.CreatedAt), second(e.UpdatedAt)
	return &workflow.Run{
		Entity:         e,
		ID:             id.NewRunID(),
		WorkflowID:     "procesar-pedido",
		EventName:      "pedido/nuevo",
		Payload:        []byte(`{"pedidoId":"P-1"}`),
		State:          workflow.RunStateQueued,
		IdempotencyKey: key,
	}
}

func mustCreateRun(t *testing.T, s store.Store, run *workflow.Run) {
	t.Helper()
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func testJobDequeueClaimsOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		j := job.New("orquesta/run.execute", []byte(`{}`), job.WithRunAt(time.Now().Add(-time.Second)))
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.DequeueJobs(ctx, []string{"default"}, 3)
				if err != nil {
					t.Errorf("DequeueJobs: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 10 {
		t.Errorf("claimed %d distinct jobs, want 10", len(seen))
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

func testJobSnoozeRequeues(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := job.New("orquesta/run.execute", nil, job.WithRunAt(time.Now().Add(-time.Second)))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	got, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("DequeueJobs = %d, %v", len(got), err)
	}

	claimed := got[0]
	claimed.State = job.StatePending
	claimed.RunAt = time.Now().Add(time.Hour)
	if err := s.UpdateJob(ctx, claimed); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if again, _ := s.DequeueJobs(ctx, []string{"default"}, 1); len(again) != 0 {
		t.Error("snoozed job dequeued before its RunAt")
	}

	claimed.RunAt = time.Now().Add(-time.Second)
	if err := s.UpdateJob(ctx, claimed); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if again, _ := s.DequeueJobs(ctx, []string{"default"}, 1); len(again) != 1 {
		t.Error("due job not dequeued after snooze")
	}
}

func testRunIdempotencyKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newRun("evt_1:procesar-pedido")
	if err := s.CreateRun(ctx, first); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, newRun("evt_1:procesar-pedido")); !errors.Is(err, orquesta.ErrRunAlreadyExists) {
		t.Errorf("duplicate key: err = %v, want ErrRunAlreadyExists", err)
	}
	got, err := s.GetRun(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.WorkflowID != first.WorkflowID || string(got.Payload) != string(first.Payload) {
		t.Errorf("GetRun = %+v", got)
	}
	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, orquesta.ErrRunNotFound) {
		t.Errorf("missing run: err = %v", err)
	}
}

func testRunLockSingleWriter(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("")
	mustCreateRun(t, s, run)

	// Every claim is a distinct owner, even on one worker.
	worker := id.NewWorkerID().String()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners []string
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := fmt.Sprintf("%s/%s/%d", worker, id.NewJobID(), i)
			ok, err := s.AcquireRunLock(ctx, run.ID, token, time.Minute)
			if err != nil {
				t.Errorf("AcquireRunLock: %v", err)
				return
			}
			if ok {
				mu.Lock()
				owners = append(owners, token)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(owners) != 1 {
		t.Fatalf("lock owners = %d, want 1", len(owners))
	}
	if ok, _ := s.AcquireRunLock(ctx, run.ID, owners[0], time.Minute); !ok {
		t.Error("owner could not renew its lease")
	}

	if err := s.ReleaseRunLock(ctx, run.ID, worker+"/other/9"); err != nil {
		t.Fatalf("ReleaseRunLock: %v", err)
	}
	if ok, _ := s.AcquireRunLock(ctx, run.ID, worker+"/other/9", time.Minute); ok {
		t.Error("a foreign release dropped the lock")
	}
	if err := s.ReleaseRunLock(ctx, run.ID, owners[0]); err != nil {
		t.Fatalf("ReleaseRunLock: %v", err)
	}
	if ok, _ := s.AcquireRunLock(ctx, run.ID, worker+"/other/9", time.Minute); !ok {
		t.Error("released lock could not be taken")
	}
	if _, err := s.AcquireRunLock(ctx, id.NewRunID(), worker, time.Minute); !errors.Is(err, orquesta.ErrRunNotFound) {
		t.Errorf("missing run: err = %v", err)
	}
}

func testUpdateRunKeepsLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("")
	mustCreateRun(t, s, run)
	owner := id.NewWorkerID().String() + "/1"
	if ok, err := s.AcquireRunLock(ctx, run.ID, owner, time.Minute); !ok || err != nil {
		t.Fatalf("AcquireRunLock: %v %v", ok, err)
	}

	run.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	run.State = workflow.RunStateSleeping
	if wrote, err := s.TransitionRun(ctx, run, workflow.RunStateRunning); !wrote || err != nil {
		t.Fatalf("TransitionRun: %v %v", wrote, err)
	}
	if ok, _ := s.AcquireRunLock(ctx, run.ID, "someone-else", time.Minute); ok {
		t.Error("run writes cleared the lock")
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.State != workflow.RunStateSleeping {
		t.Errorf("State = %q", got.State)
	}
	if got.LockedBy != owner {
		t.Errorf("LockedBy = %q, want %q", got.LockedBy, owner)
	}
}

// testTransitionRunSettlesOnce races a cancel against a completion; only
// one of them may land.
func testTransitionRunSettlesOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("")
	run.State = workflow.RunStateRunning
	mustCreateRun(t, s, run)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wrote []workflow.RunState
	)
	for _, final := range []workflow.RunState{workflow.RunStateCompleted, workflow.RunStateCancelled} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := *run
			next.State = final
			ok, err := s.TransitionRun(ctx, &next, workflow.RunStateQueued, workflow.RunStateRunning, workflow.RunStateSleeping)
			if err != nil {
				t.Errorf("TransitionRun to %s: %v", final, err)
				return
			}
			if ok {
				mu.Lock()
				wrote = append(wrote, final)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(wrote) != 1 {
		t.Fatalf("settling writes = %v, want exactly one", wrote)
	}
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != wrote[0] {
		t.Errorf("State = %q, want %q", got.State, wrote[0])
	}

	if _, err := s.TransitionRun(ctx, newRun(""), workflow.RunStateQueued); !errors.Is(err, orquesta.ErrRunNotFound) {
		t.Errorf("missing run: err = %v, want ErrRunNotFound", err)
	}
}

func testCheckpointCompletedIsFinal(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("")
	mustCreateRun(t, s, run)

	pending := &workflow.Checkpoint{
		ID: id.NewCheckpointID(), RunID: run.ID, StepName: "procesar-pago",
		Kind: workflow.StepKindStep, Attempts: 1, LastError: "pago rechazado",
	}
	if err := s.SaveCheckpoint(ctx, pending); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	done := *pending
	done.Attempts, done.LastError, done.Completed = 2, "", true
	done.Output = []byte(`{"transaccionId":"TX-1"}`)
	if err := s.SaveCheckpoint(ctx, &done); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	late := done
	late.Output = []byte(`{"transaccionId":"TX-2"}`)
	_ = s.SaveCheckpoint(ctx, &late)

	got, err := s.GetCheckpoint(ctx, run.ID, "procesar-pago")
	if err != nil || got == nil {
		t.Fatalf("GetCheckpoint = %v, %v", got, err)
	}
	if !got.Completed || got.Attempts != 2 {
		t.Errorf("checkpoint = %+v", got)
	}
	if string(got.Output) != `{"transaccionId":"TX-1"}` {
		t.Errorf("Output = %s, want first completed output", got.Output)
	}

	missing, err := s.GetCheckpoint(ctx, run.ID, "nunca")
	if err != nil || missing != nil {
		t.Errorf("missing checkpoint = %v, %v; want nil, nil", missing, err)
	}
}

func testCheckpointsOrderedBySeq(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("")
	mustCreateRun(t, s, run)
	names := []string{"validar", "espera", "enviar"}
	for i := len(names) - 1; i >= 0; i-- {
		cp := &workflow.Checkpoint{ID: id.NewCheckpointID(), RunID: run.ID, StepName: names[i], Seq: i, Kind: workflow.StepKindStep}
		if err := s.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	cps, err := s.ListCheckpoints(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != len(names) {
		t.Fatalf("len = %d, want %d", len(cps), len(names))
	}
	for i, name := range names {
		if cps[i].StepName != name {
			t.Errorf("cps[%d] = %q, want %q", i, cps[i].StepName, name)
		}
	}
}

func testCronClaimTickOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	tick := second(time.Now().Add(-time.Minute))
	next := tick.Add(time.Hour)
	e := orquesta.NewEntity()
	entry := &cron.Entry{Entity: e, ID: id.NewCronID(), Name: "reporte", Schedule: "@hourly", WorkflowID: "reporte", NextRunAt: &tick, Enabled: true}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ClaimCronTick(ctx, entry.ID, tick, next)
			if err != nil {
				t.Errorf("ClaimCronTick: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("tick winners = %d, want 1", wins)
	}

	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(tick) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, tick)
	}
}

func testCronDuplicateName(t *testing.T, s store.Store) {
	ctx := context.Background()
	mk := func() *cron.Entry {
		return &cron.Entry{Entity: orquesta.NewEntity(), ID: id.NewCronID(), Name: "duplicado", Schedule: "@daily", WorkflowID: "x", Enabled: true}
	}
	if err := s.RegisterCron(ctx, mk()); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := s.RegisterCron(ctx, mk()); !errors.Is(err, orquesta.ErrDuplicateCron) {
		t.Errorf("err = %v, want ErrDuplicateCron", err)
	}
}

func testDLQLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := second(time.Now())
	var newest *dlq.Entry
	for i := 0; i < 3; i++ {
		e := &dlq.Entry{
			ID: id.NewDLQID(), RunID: id.NewRunID(), WorkflowID: "procesar-pedido",
			Error: "fallo", Step: "procesar-pago", Attempts: 3,
			FailedAt: base.Add(time.Duration(i) * time.Minute), CreatedAt: base,
		}
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
		newest = e
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(list) != 2 || list[0].ID.String() != newest.ID.String() {
		t.Errorf("ListDLQ not newest first")
	}
	if err := s.ReplayDLQ(ctx, newest.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, _ := s.GetDLQ(ctx, newest.ID)
	if got.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}
	n, err := s.PurgeDLQ(ctx, base.Add(30*time.Second))
	if err != nil || n != 1 {
		t.Errorf("PurgeDLQ = %d, %v; want 1", n, err)
	}
	if c, _ := s.CountDLQ(ctx); c != 2 {
		t.Errorf("CountDLQ = %d, want 2", c)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, orquesta.ErrDLQNotFound) {
		t.Errorf("missing entry: err = %v", err)
	}
}

func testEventsNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := second(time.Now())
	for i, name := range []string{"pedido/nuevo", "usuario/registrado", "pedido/nuevo"} {
		evt := &event.Event{ID: id.NewEventID(), Name: name, Payload: []byte(`{}`), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.PublishEvent(ctx, evt); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}
	evts, err := s.ListEvents(ctx, event.ListOpts{Name: "pedido/nuevo"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evts) != 2 || !evts[0].CreatedAt.After(evts[1].CreatedAt) {
		t.Errorf("ListEvents = %d, newest first expected", len(evts))
	}
}

func testLeadership(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	a, b := id.NewWorkerID(), id.NewWorkerID()
	for _, w := range []id.WorkerID{a, b} {
		err := s.RegisterWorker(ctx, &cluster.Worker{
			ID: w, Hostname: "host", Queues: []string{"default"}, Concurrency: 4,
			State: cluster.WorkerActive, LastSeen: now, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}

	if ok, err := s.AcquireLeadership(ctx, a, time.Minute); !ok || err != nil {
		t.Fatalf("a acquire: %v %v", ok, err)
	}
	if ok, _ := s.AcquireLeadership(ctx, b, time.Minute); ok {
		t.Error("b acquired a held lease")
	}
	if ok, _ := s.RenewLeadership(ctx, a, time.Minute); !ok {
		t.Error("a could not renew")
	}
	if ok, _ := s.RenewLeadership(ctx, b, time.Minute); ok {
		t.Error("b renewed a lease it does not hold")
	}
	leader, err := s.GetLeader(ctx)
	if err != nil || leader == nil || leader.ID.String() != a.String() {
		t.Fatalf("GetLeader = %v, %v; want a", leader, err)
	}

	if err := s.DeregisterWorker(ctx, a); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if ok, _ := s.AcquireLeadership(ctx, b, time.Minute); !ok {
		t.Error("b could not take over after a left")
	}
	if err := s.HeartbeatWorker(ctx, a); !errors.Is(err, orquesta.ErrWorkerNotFound) {
		t.Errorf("heartbeat of removed worker: err = %v", err)
	}
}
