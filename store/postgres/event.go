package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/id"
)

// PublishEvent records an event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_events (id, name, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		evt.ID.String(), evt.Name, nullJSON(evt.Payload), evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: publish event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*event.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, payload, created_at FROM orquesta_events WHERE id = $1`, eventID.String())
	evt, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orquesta.ErrEventNotFound
		}
		return nil, fmt.Errorf("orquesta/postgres: get event: %w", err)
	}
	return evt, nil
}

// ListEvents returns events matching opts, newest first.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	q := newQuery(`SELECT id, name, payload, created_at FROM orquesta_events`)
	if opts.Name != "" {
		q.and("name = $%d", opts.Name)
	}
	q.page("created_at DESC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list events: %w", err)
	}
	return collect(rows, scanEvent, "event")
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt   event.Event
		idStr string
	)
	if err := row.Scan(&idStr, &evt.Name, &evt.Payload, &evt.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := id.ParseEventID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", idStr, err)
	}
	evt.ID = parsed
	return &evt, nil
}
