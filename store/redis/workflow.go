package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

// CreateRun persists a new run. The idempotency key is claimed with
// SETNX before the run is written.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	stored := *run
	stored.LockedBy, stored.LockedUntil = "", nil
	b, err := msgpack.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("orquesta/redis: encode run: %w", err)
	}

	if run.IdempotencyKey != "" {
		ok, err := s.client.SetNX(ctx, runIdemKey(run.IdempotencyKey), rID, 0).Result()
		if err != nil {
			return fmt.Errorf("orquesta/redis: claim idempotency key: %w", err)
		}
		if !ok {
			return orquesta.ErrRunAlreadyExists
		}
	}
	ok, err := s.client.SetNX(ctx, runKey(rID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("orquesta/redis: create run: %w", err)
	}
	if !ok {
		return orquesta.ErrRunAlreadyExists
	}
	if err := s.client.ZAdd(ctx, runsKey, goredis.Z{Score: score(run.CreatedAt), Member: rID}).Err(); err != nil {
		return fmt.Errorf("orquesta/redis: index run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and fills the lock fields from its lease key.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	rID := runID.String()
	r, err := load[workflow.Run](ctx, s.client, runKey(rID))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get run: %w", err)
	}
	if r == nil {
		return nil, orquesta.ErrRunNotFound
	}

	pipe := s.client.Pipeline()
	owner := pipe.Get(ctx, runLockKey(rID))
	ttl := pipe.PTTL(ctx, runLockKey(rID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("orquesta/redis: get run lock: %w", err)
	}
	if by, err := owner.Result(); err == nil && by != "" {
		r.LockedBy = by
		if d, err := ttl.Result(); err == nil && d > 0 {
			until := time.Now().UTC().Add(d)
			r.LockedUntil = &until
		}
	}
	return r, nil
}

// UpdateRun overwrites a run. The lock lives under its own key and is
// left alone.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	wrote, err := mutate(ctx, s.client, runKey(run.ID.String()), func(cur *workflow.Run) (*workflow.Run, error) {
		if cur == nil {
			return nil, nil
		}
		next := *run
		next.LockedBy, next.LockedUntil = "", nil
		next.UpdatedAt = time.Now().UTC()
		return &next, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("orquesta/redis: update run: %w", err)
	}
	if !wrote {
		return orquesta.ErrRunNotFound
	}
	return nil
}

// TransitionRun overwrites a run inside a WATCH transaction that first
// checks the stored state.
func (s *Store) TransitionRun(ctx context.Context, run *workflow.Run, from ...workflow.RunState) (bool, error) {
	found := false
	wrote, err := mutate(ctx, s.client, runKey(run.ID.String()), func(cur *workflow.Run) (*workflow.Run, error) {
		found = cur != nil
		if cur == nil || !slices.Contains(from, cur.State) {
			return nil, nil
		}
		next := *run
		next.LockedBy, next.LockedUntil = "", nil
		next.UpdatedAt = time.Now().UTC()
		return &next, nil
	}, nil)
	if err != nil {
		return false, fmt.Errorf("orquesta/redis: transition run: %w", err)
	}
	if !found {
		return false, orquesta.ErrRunNotFound
	}
	return wrote, nil
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.ZRevRange(ctx, runsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list runs: %w", err)
	}
	keys := make([]string, len(ids))
	for i, rID := range ids {
		keys[i] = runKey(rID)
	}
	all, err := loadMany[workflow.Run](ctx, s.client, keys)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list runs: %w", err)
	}
	out := make([]*workflow.Run, 0, len(all))
	for _, r := range all {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.WorkflowID != "" && r.WorkflowID != opts.WorkflowID {
			continue
		}
		out = append(out, r)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// AcquireRunLock takes or extends the lease on the run's lock key.
func (s *Store) AcquireRunLock(ctx context.Context, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	rID := runID.String()
	n, err := s.client.Exists(ctx, runKey(rID)).Result()
	if err != nil {
		return false, fmt.Errorf("orquesta/redis: acquire run lock: %w", err)
	}
	if n == 0 {
		return false, orquesta.ErrRunNotFound
	}
	won, err := leaseScript.Run(ctx, s.client, []string{runLockKey(rID)},
		owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("orquesta/redis: acquire run lock: %w", err)
	}
	return won == 1, nil
}

// ReleaseRunLock drops the lease if owner holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, runID id.RunID, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{runLockKey(runID.String())}, owner).Err(); err != nil {
		return fmt.Errorf("orquesta/redis: release run lock: %w", err)
	}
	return nil
}

// SaveCheckpoint upserts a step state unless the stored one completed.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	rID := cp.RunID.String()
	_, err := mutate(ctx, s.client, checkpointKey(rID, cp.StepName), func(cur *workflow.Checkpoint) (*workflow.Checkpoint, error) {
		if cur != nil && cur.Completed {
			return nil, nil
		}
		next := *cp
		next.UpdatedAt = time.Now().UTC()
		if next.CreatedAt.IsZero() {
			next.CreatedAt = next.UpdatedAt
		}
		return &next, nil
	}, func(p goredis.Pipeliner, _ *workflow.Checkpoint) {
		p.SAdd(ctx, checkpointIndexKey(rID), cp.StepName)
	})
	if err != nil {
		return fmt.Errorf("orquesta/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns a step state, or nil if there is none.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) (*workflow.Checkpoint, error) {
	cp, err := load[workflow.Checkpoint](ctx, s.client, checkpointKey(runID.String(), stepName))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns all step states of a run ordered by Seq.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rID := runID.String()
	steps, err := s.client.SMembers(ctx, checkpointIndexKey(rID)).Result()
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list checkpoints: %w", err)
	}
	keys := make([]string, len(steps))
	for i, step := range steps {
		keys[i] = checkpointKey(rID, step)
	}
	out, err := loadMany[workflow.Checkpoint](ctx, s.client, keys)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list checkpoints: %w", err)
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Seq != out[k].Seq {
			return out[i].Seq < out[k].Seq
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}
