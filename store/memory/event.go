package memory

import (
	"context"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
)

// PublishEvent records an event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// GetEvent retrieves an event by ID.
func (m *Store) GetEvent(_ context.Context, eventID id.EventID) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return nil, orquesta.ErrEventNotFound
	}
	cp := *evt
	return &cp, nil
}

// ListEvents returns events matching opts, newest first.
func (m *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*event.Event, 0, len(m.events))
	for _, evt := range m.events {
		if opts.Name != "" && evt.Name != opts.Name {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	sortBy(out, func(a, b *event.Event) bool { return a.CreatedAt.After(b.CreatedAt) })
	return page(out, opts.Offset, opts.Limit), nil
}
