package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/store/memory"
	"github.com/orquesta/orquesta/workflow"
)

func newFailedRun(workflowID string, payload string) *workflow.Run {
	return &workflow.Run{
		Entity:     orquesta.NewEntity(),
		ID:         id.NewRunID(),
		WorkflowID: workflowID,
		EventName:  "tienda/pedido.creado",
		Payload:    json.RawMessage(payload),
		State:      workflow.RunStateFailed,
		FailedStep: "procesar-pago",
	}
}

// replayerSpy records replayed run IDs.
type replayerSpy struct {
	runs []id.RunID
	err  error
}

func (r *replayerSpy) Replay(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.runs = append(r.runs, runID)
	return &workflow.Run{ID: runID, State: workflow.RunStateQueued}, nil
}

func TestService_PushRun_BuildsEntryFromRun(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	ctx := context.Background()

	run := newFailedRun("procesar-pedido", `{"pedidoId":"P-1"}`)
	runErr := &orquesta.StepFailure{
		Step:     "procesar-pago",
		Attempts: 6,
		Err:      errors.New("Error simulado en procesamiento de pago"),
	}
	if err := svc.PushRun(ctx, run, runErr); err != nil {
		t.Fatalf("PushRun: %v", err)
	}

	entries, err := svc.List(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.RunID.String() != run.ID.String() {
		t.Errorf("RunID = %v, want %v", entry.RunID, run.ID)
	}
	if entry.WorkflowID != "procesar-pedido" {
		t.Errorf("WorkflowID = %q", entry.WorkflowID)
	}
	if string(entry.Payload) != `{"pedidoId":"P-1"}` {
		t.Errorf("Payload = %s", entry.Payload)
	}
	if entry.Error != "Error simulado en procesamiento de pago" {
		t.Errorf("Error = %q, want the step's own message", entry.Error)
	}
	if entry.Step != "procesar-pago" || entry.Attempts != 6 {
		t.Errorf("Step/Attempts = %q/%d, want procesar-pago/6", entry.Step, entry.Attempts)
	}
	if entry.FailedAt.IsZero() || entry.CreatedAt.IsZero() {
		t.Error("expected FailedAt and CreatedAt to be set")
	}
}

func TestService_PushRun_CountAndFilter(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	ctx := context.Background()

	for _, wf := range []string{"procesar-pedido", "procesar-pedido", "notificacion-basica"} {
		if err := svc.PushRun(ctx, newFailedRun(wf, `{}`), errors.New("fail")); err != nil {
			t.Fatalf("PushRun: %v", err)
		}
	}

	count, err := svc.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}

	filtered, err := svc.List(ctx, dlq.ListOpts{WorkflowID: "procesar-pedido"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("filtered entries = %d, want 2", len(filtered))
	}
}

func TestService_Replay_RequeuesRunOnce(t *testing.T) {
	s := memory.New()
	spy := &replayerSpy{}
	svc := dlq.NewService(s, spy)
	ctx := context.Background()

	run := newFailedRun("procesar-pedido", `{}`)
	if err := svc.PushRun(ctx, run, errors.New("fail")); err != nil {
		t.Fatalf("PushRun: %v", err)
	}
	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 1})
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.State != workflow.RunStateQueued {
		t.Errorf("State = %q, want queued", replayed.State)
	}
	if len(spy.runs) != 1 || spy.runs[0].String() != run.ID.String() {
		t.Errorf("replayed runs = %v, want [%s]", spy.runs, run.ID)
	}

	entry, err := svc.Get(ctx, entryID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}

	if _, err := svc.Replay(ctx, entryID); !errors.Is(err, orquesta.ErrInvalidState) {
		t.Errorf("second Replay err = %v, want ErrInvalidState", err)
	}
}

func TestService_Replay_ErrorLeavesEntryUnreplayed(t *testing.T) {
	s := memory.New()
	spy := &replayerSpy{err: orquesta.ErrInvalidState}
	svc := dlq.NewService(s, spy)
	ctx := context.Background()

	if err := svc.PushRun(ctx, newFailedRun("procesar-pedido", `{}`), errors.New("fail")); err != nil {
		t.Fatalf("PushRun: %v", err)
	}
	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 1})

	if _, err := svc.Replay(ctx, entries[0].ID); err == nil {
		t.Fatal("expected replay error")
	}
	entry, _ := svc.Get(ctx, entries[0].ID)
	if entry.ReplayedAt != nil {
		t.Error("ReplayedAt must stay nil when the run was not requeued")
	}
}

func TestService_Replay_NotFound(t *testing.T) {
	svc := dlq.NewService(memory.New(), &replayerSpy{})
	if _, err := svc.Replay(context.Background(), id.NewDLQID()); !errors.Is(err, orquesta.ErrDLQNotFound) {
		t.Fatalf("err = %v, want ErrDLQNotFound", err)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil)
	ctx := context.Background()

	if err := svc.PushRun(ctx, newFailedRun("procesar-pedido", `{}`), errors.New("fail")); err != nil {
		t.Fatalf("PushRun: %v", err)
	}

	removed, err := svc.Purge(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if n, _ := svc.Count(ctx); n != 0 {
		t.Errorf("Count after purge = %d, want 0", n)
	}
}
