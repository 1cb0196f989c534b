package event_test

import (
	"context"
	"errors"
	"testing"

	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/store/memory"
)

type recordingDispatcher struct {
	got  []*event.Event
	runs []id.RunID
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, evt *event.Event) ([]id.RunID, error) {
	d.got = append(d.got, evt)
	return d.runs, d.err
}

type countingEmitter struct{ n int }

func (e *countingEmitter) EmitEventReceived(context.Context, *event.Event) { e.n++ }

func TestBus_SendPersistsAndDispatches(t *testing.T) {
	s := memory.New()
	runID := id.NewRunID()
	disp := &recordingDispatcher{runs: []id.RunID{runID}}
	em := &countingEmitter{}
	bus := event.NewBus(s, disp, em, nil)

	evt, runIDs, err := bus.Send(context.Background(), "pedido/procesar", []byte(`{"pedidoId":"P-1"}`))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if evt.Name != "pedido/procesar" || string(evt.Payload) != `{"pedidoId":"P-1"}` {
		t.Errorf("event = %+v", evt)
	}
	if len(runIDs) != 1 || runIDs[0].String() != runID.String() {
		t.Errorf("runIDs = %v", runIDs)
	}
	if len(disp.got) != 1 || disp.got[0].ID.String() != evt.ID.String() {
		t.Errorf("dispatched = %v", disp.got)
	}
	if em.n != 1 {
		t.Errorf("emitter called %d times, want 1", em.n)
	}

	stored, err := s.GetEvent(context.Background(), evt.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Name != evt.Name {
		t.Errorf("stored name = %q", stored.Name)
	}
}

func TestBus_EmptyPayloadBecomesObject(t *testing.T) {
	bus := event.NewBus(memory.New(), &recordingDispatcher{}, nil, nil)
	evt, _, err := bus.Send(context.Background(), "vacio", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(evt.Payload) != "{}" {
		t.Errorf("Payload = %q, want {}", evt.Payload)
	}
}

func TestBus_RejectsInvalidInput(t *testing.T) {
	disp := &recordingDispatcher{}
	bus := event.NewBus(memory.New(), disp, nil, nil)

	if _, _, err := bus.Send(context.Background(), "", []byte(`{}`)); err == nil {
		t.Error("expected error for empty name")
	}
	if _, _, err := bus.Send(context.Background(), "roto", []byte(`{no json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if len(disp.got) != 0 {
		t.Error("invalid events must not be dispatched")
	}
}

func TestBus_DispatchErrorKeepsEvent(t *testing.T) {
	boom := errors.New("boom")
	bus := event.NewBus(memory.New(), &recordingDispatcher{err: boom}, nil, nil)

	evt, _, err := bus.Send(context.Background(), "falla", []byte(`{}`))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if evt == nil {
		t.Fatal("event should be returned even when dispatch fails")
	}
}

func TestBus_SendJSON(t *testing.T) {
	disp := &recordingDispatcher{}
	bus := event.NewBus(memory.New(), disp, nil, nil)

	evt, _, err := bus.SendJSON(context.Background(), "usuario/registro", map[string]string{"nombre": "Ana"})
	if err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	if string(evt.Payload) != `{"nombre":"Ana"}` {
		t.Errorf("Payload = %s", evt.Payload)
	}
	if _, _, err := bus.SendJSON(context.Background(), "x", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
