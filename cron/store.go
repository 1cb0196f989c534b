package cron

import (
	"context"
	"time"

	"github.com/orquesta/orquesta/id"
)

// Store defines the persistence contract for cron entries.
type Store interface {
	// RegisterCron persists a new cron entry. Returns
	// orquesta.ErrDuplicateCron if the name already exists.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves a cron entry by ID.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// ListCrons returns all cron entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// ClaimCronTick atomically moves NextRunAt from expected to next and
	// sets LastRunAt to expected. It returns false, without changing
	// anything, if NextRunAt no longer equals expected. Exactly one caller
	// wins each tick.
	ClaimCronTick(ctx context.Context, entryID id.CronID, expected, next time.Time) (bool, error)

	// UpdateCronEntry updates a cron entry (Enabled, Schedule, NextRunAt).
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes a cron entry by ID.
	DeleteCron(ctx context.Context, entryID id.CronID) error
}
