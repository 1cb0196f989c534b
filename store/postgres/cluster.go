package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/id"
)

// Workers are read joined with the single-row lease table so IsLeader
// and LeaderUntil reflect the live lease.
const workerSelect = `
	SELECT w.id, w.hostname, w.queues, w.concurrency, w.state,
	       (l.worker_id IS NOT NULL) AS is_leader, l.leader_until,
	       w.last_seen, w.metadata, w.created_at
	FROM orquesta_workers w
	LEFT JOIN orquesta_leader l ON l.worker_id = w.id AND l.leader_until >= NOW()`

// RegisterWorker adds or refreshes a worker in the registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	queues := w.Queues
	if queues == nil {
		queues = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_workers (
			id, hostname, queues, concurrency, state, last_seen, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			queues = EXCLUDED.queues,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		w.ID.String(), w.Hostname, queues, w.Concurrency,
		string(w.State), w.LastSeen, w.Metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker and gives up its lease.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orquesta_workers WHERE id = $1`, workerID.String())
	if err != nil {
		return fmt.Errorf("orquesta/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrWorkerNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM orquesta_leader WHERE worker_id = $1`, workerID.String()); err != nil {
		return fmt.Errorf("orquesta/postgres: release leadership: %w", err)
	}
	return nil
}

// HeartbeatWorker updates last_seen for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orquesta_workers SET last_seen = NOW() WHERE id = $1`, workerID.String())
	if err != nil {
		return fmt.Errorf("orquesta/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx, workerSelect+` ORDER BY w.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list workers: %w", err)
	}
	return collect(rows, scanWorker, "worker")
}

// ReapDeadWorkers returns workers not seen within threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx, workerSelect+` WHERE w.last_seen < $1`, time.Now().UTC().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: reap dead workers: %w", err)
	}
	return collect(rows, scanWorker, "worker")
}

// AcquireLeadership claims the lease in one upsert. The conflict branch
// only fires when the lease is ours or has lapsed.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_leader (singleton, worker_id, leader_until)
		VALUES (TRUE, $1, $2)
		ON CONFLICT (singleton) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			leader_until = EXCLUDED.leader_until
		WHERE orquesta_leader.worker_id = EXCLUDED.worker_id
		   OR orquesta_leader.leader_until < NOW()`,
		workerID.String(), time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: acquire leadership: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLeadership extends a lease workerID still holds.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_leader SET leader_until = $2
		WHERE worker_id = $1 AND leader_until >= NOW()`,
		workerID.String(), time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: renew leadership: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetLeader returns the current leader, or nil when the lease has
// lapsed.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx, workerSelect+` WHERE l.worker_id IS NOT NULL LIMIT 1`)
	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orquesta/postgres: get leader: %w", err)
	}
	return w, nil
}

func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w               cluster.Worker
		idStr, stateStr string
	)
	err := row.Scan(
		&idStr, &w.Hostname, &w.Queues, &w.Concurrency, &stateStr,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &w.Metadata, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.State = cluster.WorkerState(stateStr)
	if w.ID, err = id.ParseWorkerID(idStr); err != nil {
		return nil, fmt.Errorf("parse worker id %q: %w", idStr, err)
	}
	return &w, nil
}
