package memory

import (
	"context"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/id"
)

// RegisterCron persists a new cron entry with a unique name.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return orquesta.ErrDuplicateCron
		}
	}
	cp := *entry
	m.crons[entry.ID.String()] = &cp
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, orquesta.ErrCronNotFound
	}
	cp := *e
	return &cp, nil
}

// ListCrons returns all cron entries, oldest first.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		cp := *e
		out = append(out, &cp)
	}
	sortBy(out, func(a, b *cron.Entry) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return out, nil
}

// ClaimCronTick moves NextRunAt from expected to next if nobody else
// has.
func (m *Store) ClaimCronTick(_ context.Context, entryID id.CronID, expected, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, orquesta.ErrCronNotFound
	}
	if e.NextRunAt == nil || !e.NextRunAt.Equal(expected) {
		return false, nil
	}
	last, nxt := expected, next
	e.LastRunAt = &last
	e.NextRunAt = &nxt
	e.UpdatedAt = m.utcNow()
	return true, nil
}

// UpdateCronEntry overwrites a cron entry.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return orquesta.ErrCronNotFound
	}
	cp := *entry
	cp.UpdatedAt = m.utcNow()
	m.crons[key] = &cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return orquesta.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}
