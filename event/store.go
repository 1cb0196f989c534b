package event

import (
	"context"

	"github.com/orquesta/orquesta/id"
)

// ListOpts controls pagination and filtering for event queries.
type ListOpts struct {
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Offset is the number of events to skip.
	Offset int
	// Name filters by event name. Empty means all names.
	Name string
}

// Store defines the persistence contract for events.
type Store interface {
	// PublishEvent persists a new event.
	PublishEvent(ctx context.Context, evt *Event) error

	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)

	// ListEvents returns events, newest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
