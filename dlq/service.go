package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

// RunReplayer requeues a failed run. workflow.Runner satisfies it.
type RunReplayer interface {
	Replay(ctx context.Context, runID id.RunID) (*workflow.Run, error)
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	replayer RunReplayer
}

// NewService creates a DLQ service. replayer may be nil until the runner
// exists; see SetReplayer.
func NewService(store Store, replayer RunReplayer) *Service {
	return &Service{store: store, replayer: replayer}
}

// SetReplayer sets the component that requeues replayed runs.
func (s *Service) SetReplayer(r RunReplayer) { s.replayer = r }

// PushRun builds a DLQ Entry from a failed run and persists it. It
// implements workflow.DeadLetter.
func (s *Service) PushRun(ctx context.Context, run *workflow.Run, runErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:         id.NewDLQID(),
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		EventName:  run.EventName,
		Payload:    run.Payload,
		Error:      runErr.Error(),
		Step:       run.FailedStep,
		FailedAt:   now,
		CreatedAt:  now,
	}
	var sf *orquesta.StepFailure
	if errors.As(runErr, &sf) {
		entry.Step = sf.Step
		entry.Attempts = sf.Attempts
	}
	return s.store.PushDLQ(ctx, entry)
}

// Replay requeues the run behind a DLQ entry and marks the entry as
// replayed. Completed steps of the run are not executed again.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*workflow.Run, error) {
	if s.replayer == nil {
		return nil, errors.New("orquesta: dlq replay is not configured")
	}
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, orquesta.ErrInvalidState
	}

	run, err := s.replayer.Replay(ctx, entry.RunID)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The run is already requeued; report the bookkeeping error.
		return run, err
	}
	return run, nil
}

// List returns DLQ entries.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get returns one DLQ entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Count returns the number of DLQ entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}
