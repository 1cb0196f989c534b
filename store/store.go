package store

import (
	"context"

	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/job"
	"github.com/orquesta/orquesta/workflow"
)

// Store is the aggregate persistence interface. One backend implements
// every subsystem contract.
type Store interface {
	job.Store
	workflow.Store
	cron.Store
	dlq.Store
	event.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
