package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/dlq"
	"github.com/orquesta/orquesta/id"
)

const dlqColumns = `
	id, run_id, workflow_id, event_name, payload, error, step, attempts,
	failed_at, replayed_at, created_at`

// PushDLQ adds a failed run to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.RunID.String(), entry.WorkflowID, entry.EventName,
		nullJSON(entry.Payload), entry.Error, entry.Step, entry.Attempts,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	q := newQuery(`SELECT ` + dlqColumns + ` FROM orquesta_dlq`)
	if opts.WorkflowID != "" {
		q.and("workflow_id = $%d", opts.WorkflowID)
	}
	q.page("failed_at DESC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list dlq: %w", err)
	}
	return collect(rows, scanDLQ, "dlq entry")
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM orquesta_dlq WHERE id = $1`, entryID.String())
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orquesta.ErrDLQNotFound
		}
		return nil, fmt.Errorf("orquesta/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ stamps replayed_at on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orquesta_dlq SET replayed_at = NOW() WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("orquesta/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orquesta_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("orquesta/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orquesta_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("orquesta/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e             dlq.Entry
		idStr, runStr string
	)
	err := row.Scan(
		&idStr, &runStr, &e.WorkflowID, &e.EventName, &e.Payload, &e.Error, &e.Step, &e.Attempts,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseDLQID(idStr); err != nil {
		return nil, fmt.Errorf("parse dlq id %q: %w", idStr, err)
	}
	if e.RunID, err = id.ParseRunID(runStr); err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runStr, err)
	}
	return &e, nil
}
