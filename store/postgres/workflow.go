package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/workflow"
)

const runColumns = `
	id, workflow_id, event_id, event_name, payload, state, output,
	error, failed_step, idempotency_key, wake_at, started_at, completed_at,
	locked_by, locked_until, created_at, updated_at`

// CreateRun persists a new run. The partial unique index on
// idempotency_key rejects a second run for the same key.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, '', NULL, $14, $15)`,
		run.ID.String(), run.WorkflowID, run.EventID.String(), run.EventName,
		nullJSON(run.Payload), string(run.State), nullJSON(run.Output),
		run.Error, run.FailedStep, run.IdempotencyKey,
		run.WakeAt, run.StartedAt, run.CompletedAt,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orquesta.ErrRunAlreadyExists
		}
		return fmt.Errorf("orquesta/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM orquesta_runs WHERE id = $1`, runID.String())
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orquesta.ErrRunNotFound
		}
		return nil, fmt.Errorf("orquesta/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun writes every column except the lock.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_runs SET
			workflow_id = $2, event_id = $3, event_name = $4, payload = $5,
			state = $6, output = $7, error = $8, failed_step = $9,
			wake_at = $10, started_at = $11, completed_at = $12,
			updated_at = NOW()
		WHERE id = $1`,
		run.ID.String(), run.WorkflowID, run.EventID.String(), run.EventName,
		nullJSON(run.Payload), string(run.State), nullJSON(run.Output),
		run.Error, run.FailedStep,
		run.WakeAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrRunNotFound
	}
	return nil
}

// TransitionRun writes every column except the lock, guarded by the
// stored state.
func (s *Store) TransitionRun(ctx context.Context, run *workflow.Run, from ...workflow.RunState) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_runs SET
			workflow_id = $2, event_id = $3, event_name = $4, payload = $5,
			state = $6, output = $7, error = $8, failed_step = $9,
			wake_at = $10, started_at = $11, completed_at = $12,
			updated_at = NOW()
		WHERE id = $1 AND state = ANY($13)`,
		run.ID.String(), run.WorkflowID, run.EventID.String(), run.EventName,
		nullJSON(run.Payload), string(run.State), nullJSON(run.Output),
		run.Error, run.FailedStep,
		run.WakeAt, run.StartedAt, run.CompletedAt,
		states,
	)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: transition run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := s.runExists(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: transition run: %w", err)
	}
	if !exists {
		return false, orquesta.ErrRunNotFound
	}
	return false, nil
}

func (s *Store) runExists(ctx context.Context, runID id.RunID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM orquesta_runs WHERE id = $1)`, runID.String(),
	).Scan(&exists)
	return exists, err
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	q := newQuery(`SELECT ` + runColumns + ` FROM orquesta_runs`)
	if opts.State != "" {
		q.and("state = $%d", string(opts.State))
	}
	if opts.WorkflowID != "" {
		q.and("workflow_id = $%d", opts.WorkflowID)
	}
	q.page("created_at DESC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list runs: %w", err)
	}
	return collect(rows, scanRun, "run")
}

// AcquireRunLock takes the lock when it is free, expired or already
// held by owner.
func (s *Store) AcquireRunLock(ctx context.Context, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_runs
		SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_by = '' OR locked_by = $2 OR locked_until IS NULL OR locked_until < NOW())`,
		runID.String(), owner, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: acquire run lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: acquire run lock: %w", err)
	}
	if !exists {
		return false, orquesta.ErrRunNotFound
	}
	return false, nil
}

// ReleaseRunLock drops the lock if owner holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, runID id.RunID, owner string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE orquesta_runs SET locked_by = '', locked_until = NULL
		WHERE id = $1 AND locked_by = $2`,
		runID.String(), owner,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: release run lock: %w", err)
	}
	return nil
}

const checkpointColumns = `
	id, run_id, step_name, kind, seq, output, completed,
	attempts, last_error, wake_at, created_at, updated_at`

// SaveCheckpoint upserts a step state. The conflict branch is skipped
// once the stored step has completed.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	created := cp.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_checkpoints (`+checkpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (run_id, step_name) DO UPDATE SET
			kind = EXCLUDED.kind,
			seq = EXCLUDED.seq,
			output = EXCLUDED.output,
			completed = EXCLUDED.completed,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			wake_at = EXCLUDED.wake_at,
			updated_at = NOW()
		WHERE orquesta_checkpoints.completed = FALSE`,
		cp.ID.String(), cp.RunID.String(), cp.StepName, string(cp.Kind), cp.Seq,
		nullJSON(cp.Output), cp.Completed, cp.Attempts, cp.LastError, cp.WakeAt,
		created,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns a step state, or nil if there is none.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) (*workflow.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+` FROM orquesta_checkpoints
		WHERE run_id = $1 AND step_name = $2`,
		runID.String(), stepName,
	)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orquesta/postgres: get checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns all step states of a run ordered by Seq.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+checkpointColumns+` FROM orquesta_checkpoints
		WHERE run_id = $1
		ORDER BY seq ASC, created_at ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list checkpoints: %w", err)
	}
	return collect(rows, scanCheckpoint, "checkpoint")
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		r                      workflow.Run
		idStr, eventStr, state string
	)
	err := row.Scan(
		&idStr, &r.WorkflowID, &eventStr, &r.EventName, &r.Payload, &state, &r.Output,
		&r.Error, &r.FailedStep, &r.IdempotencyKey, &r.WakeAt, &r.StartedAt, &r.CompletedAt,
		&r.LockedBy, &r.LockedUntil, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = workflow.RunState(state)
	if r.ID, err = id.ParseRunID(idStr); err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", idStr, err)
	}
	if r.EventID, err = parseOptional(eventStr, id.PrefixEvent); err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", eventStr, err)
	}
	return &r, nil
}

func scanCheckpoint(row pgx.Row) (*workflow.Checkpoint, error) {
	var (
		cp                  workflow.Checkpoint
		idStr, runStr, kind string
	)
	err := row.Scan(
		&idStr, &runStr, &cp.StepName, &kind, &cp.Seq, &cp.Output, &cp.Completed,
		&cp.Attempts, &cp.LastError, &cp.WakeAt, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.Kind = workflow.StepKind(kind)
	if cp.ID, err = id.ParseCheckpointID(idStr); err != nil {
		return nil, fmt.Errorf("parse checkpoint id %q: %w", idStr, err)
	}
	if cp.RunID, err = id.ParseRunID(runStr); err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runStr, err)
	}
	return &cp, nil
}
