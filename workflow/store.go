package workflow

import (
	"context"
	"time"

	"github.com/orquesta/orquesta/id"
)

// ListOpts controls pagination for workflow run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State RunState
	// WorkflowID filters by definition. Empty means all workflows.
	WorkflowID string
}

// Store defines the persistence contract for workflow runs and step state.
type Store interface {
	// CreateRun persists a new run. A non-empty IdempotencyKey that is
	// already taken yields orquesta.ErrRunAlreadyExists.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run. Lock fields are
	// not written.
	UpdateRun(ctx context.Context, run *Run) error

	// TransitionRun writes run only if the stored state is one of from.
	// It returns false, without writing, when the stored state has moved
	// on. Lock fields are not written.
	TransitionRun(ctx context.Context, run *Run, from ...RunState) (bool, error)

	// ListRuns returns runs matching opts, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// AcquireRunLock makes owner the single writer of the run until ttl
	// elapses. owner is a lease token unique to one execution. It returns
	// false while any other token holds a live lock. Re-acquiring with
	// the same token extends the lease.
	AcquireRunLock(ctx context.Context, runID id.RunID, owner string, ttl time.Duration) (bool, error)

	// ReleaseRunLock drops the lock if owner holds it.
	ReleaseRunLock(ctx context.Context, runID id.RunID, owner string) error

	// SaveCheckpoint upserts the state of one step keyed by run and step
	// name. Saving over a completed checkpoint is a no-op.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// GetCheckpoint returns the state of one step, or nil if the step has
	// never been reached.
	GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) (*Checkpoint, error)

	// ListCheckpoints returns all step states of a run ordered by Seq.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)
}
