package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cluster"
	"github.com/orquesta/orquesta/id"
)

// RegisterWorker adds or replaces a worker in the registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()
	b, err := msgpack.Marshal(w)
	if err != nil {
		return fmt.Errorf("orquesta/redis: encode worker: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, workerKey(wID), b, 0)
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker and gives up its lease.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()
	n, err := s.client.Del(ctx, workerKey(wID)).Result()
	if err != nil {
		return fmt.Errorf("orquesta/redis: deregister worker: %w", err)
	}
	if n == 0 {
		return orquesta.ErrWorkerNotFound
	}
	pipe := s.client.Pipeline()
	pipe.SRem(ctx, workerIDsKey, wID)
	releaseScript.Eval(ctx, pipe, []string{leaderKey}, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker updates LastSeen for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	wrote, err := mutate(ctx, s.client, workerKey(workerID.String()), func(cur *cluster.Worker) (*cluster.Worker, error) {
		if cur == nil {
			return nil, nil
		}
		cur.LastSeen = time.Now().UTC()
		return cur, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("orquesta/redis: heartbeat worker: %w", err)
	}
	if !wrote {
		return orquesta.ErrWorkerNotFound
	}
	return nil
}

func (s *Store) allWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, wID := range ids {
		keys[i] = workerKey(wID)
	}
	workers, err := loadMany[cluster.Worker](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}
	leader, until, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		markLeader(w, leader, until)
	}
	return workers, nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	workers, err := s.allWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list workers: %w", err)
	}
	sort.SliceStable(workers, func(i, k int) bool { return workers[i].CreatedAt.Before(workers[k].CreatedAt) })
	return workers, nil
}

// ReapDeadWorkers returns workers not seen within threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	workers, err := s.allWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: reap dead workers: %w", err)
	}
	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership takes the lease unless another worker holds it.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	won, err := leaseScript.Run(ctx, s.client, []string{leaderKey}, workerID.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("orquesta/redis: acquire leadership: %w", err)
	}
	return won == 1, nil
}

// RenewLeadership extends a lease workerID still holds.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := renewScript.Run(ctx, s.client, []string{leaderKey}, workerID.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("orquesta/redis: renew leadership: %w", err)
	}
	return ok == 1, nil
}

// GetLeader returns the current leader, or nil when no lease is held.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leader, until, err := s.lease(ctx)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get leader: %w", err)
	}
	if leader == "" {
		return nil, nil
	}
	w, err := load[cluster.Worker](ctx, s.client, workerKey(leader))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get leader: %w", err)
	}
	if w == nil {
		return nil, nil
	}
	markLeader(w, leader, until)
	return w, nil
}

// lease reads the leader key and its remaining time.
func (s *Store) lease(ctx context.Context) (string, time.Time, error) {
	pipe := s.client.Pipeline()
	holder := pipe.Get(ctx, leaderKey)
	ttl := pipe.PTTL(ctx, leaderKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return "", time.Time{}, err
	}
	leader, err := holder.Result()
	if errors.Is(err, goredis.Nil) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return leader, time.Now().UTC().Add(ttl.Val()), nil
}

func markLeader(w *cluster.Worker, leader string, until time.Time) {
	w.IsLeader = w.ID.String() == leader
	w.LeaderUntil = nil
	if w.IsLeader {
		u := until
		w.LeaderUntil = &u
	}
}
