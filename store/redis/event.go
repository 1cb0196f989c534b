package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
)

// PublishEvent records an event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	eID := evt.ID.String()
	b, err := msgpack.Marshal(evt)
	if err != nil {
		return fmt.Errorf("orquesta/redis: encode event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKey(eID), b, 0)
	pipe.ZAdd(ctx, eventsKey, goredis.Z{Score: score(evt.CreatedAt), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: publish event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	evt, err := load[event.Event](ctx, s.client, eventKey(eventID.String()))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get event: %w", err)
	}
	if evt == nil {
		return nil, orquesta.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events matching opts, newest first.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	ids, err := s.client.ZRevRange(ctx, eventsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list events: %w", err)
	}
	keys := make([]string, len(ids))
	for i, eID := range ids {
		keys[i] = eventKey(eID)
	}
	all, err := loadMany[event.Event](ctx, s.client, keys)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list events: %w", err)
	}
	out := make([]*event.Event, 0, len(all))
	for _, evt := range all {
		if opts.Name != "" && evt.Name != opts.Name {
			continue
		}
		out = append(out, evt)
	}
	return page(out, opts.Offset, opts.Limit), nil
}
