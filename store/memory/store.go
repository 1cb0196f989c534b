// Package memory provides an in-memory implementation of store.Store.
// It is safe for concurrent use and backs unit tests and demo mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/event"
	"github.com/orquesta/orquesta/job"
	"github.com/orquesta/orquesta/workflow"
)

// The store package imports this one for its tests, so the composite
// interface is checked per subsystem.
var (
	_ job.Store      = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store keeps every record in maps guarded by one RWMutex. Values are
// copied on the way in and on the way out.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	runs        map[string]*workflow.Run
	runKeys     map[string]string // idempotency key -> run ID
	checkpoints map[string]*workflow.Checkpoint
	crons       map[string]*cron.Entry
	dlqs        map[string]*dlq.Entry
	events      map[string]*event.Event
	workers     map[string]*cluster.Worker

	leader      string
	leaderUntil time.Time

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for lock and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[string]*job.Job),
		runs:        make(map[string]*workflow.Run),
		runKeys:     make(map[string]string),
		checkpoints: make(map[string]*workflow.Checkpoint),
		crons:       make(map[string]*cron.Entry),
		dlqs:        make(map[string]*dlq.Entry),
		events:      make(map[string]*event.Event),
		workers:     make(map[string]*cluster.Worker),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (m *Store) utcNow() time.Time { return m.now().UTC() }

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// page applies offset and limit to a sorted slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func sortBy[T any](items []T, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, k int) bool { return less(items[i], items[k]) })
}
