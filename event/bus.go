package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orquesta/orquesta/id"
)

// Dispatcher starts the runs triggered by an event and returns their IDs.
// workflow.Runner satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *Event) ([]id.RunID, error)
}

// Emitter is notified of every received event.
type Emitter interface {
	EmitEventReceived(ctx context.Context, evt *Event)
}

// Bus records events and dispatches them. Send returns as soon as the
// triggered runs are persisted and queued; it never waits for them.
type Bus struct {
	store      Store
	dispatcher Dispatcher
	emitter    Emitter
	logger     *slog.Logger
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store, dispatcher Dispatcher, emitter Emitter, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{store: store, dispatcher: dispatcher, emitter: emitter, logger: logger}
}

// Send persists an event named name with the given raw JSON payload and
// starts every matching run.
func (b *Bus) Send(ctx context.Context, name string, payload []byte) (*Event, []id.RunID, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("event: name is required")
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return nil, nil, fmt.Errorf("event %q: payload is not valid JSON", name)
	}

	evt := &Event{
		ID:        id.NewEventID(),
		Name:      name,
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, nil, fmt.Errorf("publish event %q: %w", name, err)
	}
	if b.emitter != nil {
		b.emitter.EmitEventReceived(ctx, evt)
	}

	runIDs, err := b.dispatcher.Dispatch(ctx, evt)
	if err != nil {
		return evt, runIDs, fmt.Errorf("dispatch event %q: %w", name, err)
	}

	b.logger.Info("event received",
		slog.String("event_id", evt.ID.String()),
		slog.String("event", name),
		slog.Int("runs", len(runIDs)),
	)
	return evt, runIDs, nil
}

// SendJSON marshals payload and calls Send.
func (b *Bus) SendJSON(ctx context.Context, name string, payload any) (*Event, []id.RunID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload for event %q: %w", name, err)
	}
	return b.Send(ctx, name, data)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }
