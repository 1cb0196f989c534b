package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

// CreateRun persists a new run, rejecting a taken idempotency key.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return orquesta.ErrRunAlreadyExists
	}
	if run.IdempotencyKey != "" {
		if _, taken := m.runKeys[run.IdempotencyKey]; taken {
			return orquesta.ErrRunAlreadyExists
		}
		m.runKeys[run.IdempotencyKey] = key
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, orquesta.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun overwrites a run, keeping the stored lock fields.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	prev, ok := m.runs[key]
	if !ok {
		return orquesta.ErrRunNotFound
	}
	cp := *run
	cp.LockedBy = prev.LockedBy
	cp.LockedUntil = prev.LockedUntil
	cp.UpdatedAt = m.utcNow()
	m.runs[key] = &cp
	return nil
}

// TransitionRun overwrites a run only while its stored state is one of
// from.
func (m *Store) TransitionRun(_ context.Context, run *workflow.Run, from ...workflow.RunState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	prev, ok := m.runs[key]
	if !ok {
		return false, orquesta.ErrRunNotFound
	}
	if !slices.Contains(from, prev.State) {
		return false, nil
	}
	cp := *run
	cp.LockedBy = prev.LockedBy
	cp.LockedUntil = prev.LockedUntil
	cp.UpdatedAt = m.utcNow()
	m.runs[key] = &cp
	return true, nil
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Run, 0)
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.WorkflowID != "" && r.WorkflowID != opts.WorkflowID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortBy(out, func(a, b *workflow.Run) bool { return a.CreatedAt.After(b.CreatedAt) })
	return page(out, opts.Offset, opts.Limit), nil
}

// AcquireRunLock takes or extends the run lock for owner.
func (m *Store) AcquireRunLock(_ context.Context, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return false, orquesta.ErrRunNotFound
	}
	now := m.utcNow()
	if r.LockedBy != "" && r.LockedBy != owner && r.LockedUntil != nil && r.LockedUntil.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	r.LockedBy = owner
	r.LockedUntil = &until
	return true, nil
}

// ReleaseRunLock drops the lock if owner holds it.
func (m *Store) ReleaseRunLock(_ context.Context, runID id.RunID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return orquesta.ErrRunNotFound
	}
	if r.LockedBy != owner {
		return nil
	}
	r.LockedBy = ""
	r.LockedUntil = nil
	return nil
}

func checkpointKey(runID id.RunID, stepName string) string {
	return runID.String() + "\x00" + stepName
}

// SaveCheckpoint upserts a step state. A completed step is never
// overwritten.
func (m *Store) SaveCheckpoint(_ context.Context, cp *workflow.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkpointKey(cp.RunID, cp.StepName)
	if prev, ok := m.checkpoints[key]; ok && prev.Completed {
		return nil
	}
	c := *cp
	c.UpdatedAt = m.utcNow()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	m.checkpoints[key] = &c
	return nil
}

// GetCheckpoint returns a step state, or nil if there is none.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) (*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[checkpointKey(runID, stepName)]
	if !ok {
		return nil, nil
	}
	c := *cp
	return &c, nil
}

// ListCheckpoints returns all step states of a run ordered by Seq.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := runID.String() + "\x00"
	var out []*workflow.Checkpoint
	for k, cp := range m.checkpoints {
		if strings.HasPrefix(k, prefix) {
			c := *cp
			out = append(out, &c)
		}
	}
	sortBy(out, func(a, b *workflow.Checkpoint) bool {
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}
