package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/orquesta/orquesta/job"
)

type runPayload struct {
	RunID string `json:"run_id"`
}

func TestRegistry_RegisterTypedAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got runPayload
	job.RegisterTyped(r, "run.execute", func(_ context.Context, p runPayload) error {
		got = p
		return nil
	})

	h, ok := r.Get("run.execute")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(runPayload{RunID: "run_123"})
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RunID != "run_123" {
		t.Errorf("RunID = %q, want %q", got.RunID, "run_123")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected ok=false for unknown job")
	}
}

func TestRegistry_BadPayload(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterTyped(r, "typed", func(_ context.Context, _ runPayload) error { return nil })

	h, _ := r.Get("typed")
	if err := h(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	boom := errors.New("boom")
	r.Register("fails", func(context.Context, []byte) error { return boom })

	h, _ := r.Get("fails")
	if err := h(context.Background(), nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := job.NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		r.Register(n, func(context.Context, []byte) error { return nil })
	}
	names := r.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestNew_AppliesOptions(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := job.New("run.execute", []byte(`{}`),
		job.WithQueue("workflows"),
		job.WithPriority(5),
		job.WithMaxRetries(7),
		job.WithPartition("procesar-pedido"),
		job.WithRunAt(at),
	)
	if j.State != job.StatePending {
		t.Errorf("State = %q, want pending", j.State)
	}
	if j.Queue != "workflows" || j.Priority != 5 || j.MaxRetries != 7 {
		t.Errorf("unexpected job options: %+v", j)
	}
	if j.Partition != "procesar-pedido" {
		t.Errorf("Partition = %q", j.Partition)
	}
	if !j.RunAt.Equal(at) {
		t.Errorf("RunAt = %v, want %v", j.RunAt, at)
	}
}

func TestSnooze(t *testing.T) {
	until := time.Now().Add(time.Minute)
	err := job.Snooze(until)

	got, ok := job.AsSnooze(err)
	if !ok {
		t.Fatal("expected AsSnooze to recognise the error")
	}
	if !got.Equal(until) {
		t.Errorf("until = %v, want %v", got, until)
	}

	if _, ok := job.AsSnooze(errors.New("plain")); ok {
		t.Error("plain error must not be a snooze")
	}
}
