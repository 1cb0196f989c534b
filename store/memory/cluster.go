package memory

import (
	"context"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/id"
)

// RegisterWorker adds or replaces a worker in the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker and gives up its leadership.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return orquesta.ErrWorkerNotFound
	}
	delete(m.workers, key)
	if m.leader == key {
		m.leader = ""
		m.leaderUntil = time.Time{}
	}
	return nil
}

// HeartbeatWorker updates LastSeen for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return orquesta.ErrWorkerNotFound
	}
	w.LastSeen = m.utcNow()
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		out = append(out, &cp)
	}
	sortBy(out, func(a, b *cluster.Worker) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return out, nil
}

// ReapDeadWorkers returns workers not seen within threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.utcNow().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			cp := *w
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}

// AcquireLeadership makes workerID leader unless another worker holds a
// live lease.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.utcNow()
	key := workerID.String()
	if m.leader != "" && m.leader != key && m.leaderUntil.After(now) {
		return false, nil
	}
	if prev, ok := m.workers[m.leader]; ok && m.leader != key {
		prev.IsLeader = false
		prev.LeaderUntil = nil
	}
	m.leader = key
	m.leaderUntil = now.Add(ttl)
	if w, ok := m.workers[key]; ok {
		until := m.leaderUntil
		w.IsLeader = true
		w.LeaderUntil = &until
	}
	return true, nil
}

// RenewLeadership extends the lease if workerID still holds it.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	now := m.utcNow()
	if m.leader != key || !m.leaderUntil.After(now) {
		return false, nil
	}
	m.leaderUntil = now.Add(ttl)
	if w, ok := m.workers[key]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// GetLeader returns the current leader, or nil when the lease has
// lapsed.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(m.utcNow()) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}
