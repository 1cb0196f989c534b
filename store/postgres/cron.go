package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/cron"
	"github.com/orquesta/orquesta/id"
)

const cronColumns = `
	id, name, schedule, workflow_id, last_run_at, next_run_at, enabled,
	created_at, updated_at`

// RegisterCron persists a new cron entry with a unique name.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_crons (`+cronColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.WorkflowID,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orquesta.ErrDuplicateCron
		}
		return fmt.Errorf("orquesta/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM orquesta_crons WHERE id = $1`, entryID.String())
	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orquesta.ErrCronNotFound
		}
		return nil, fmt.Errorf("orquesta/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cronColumns+` FROM orquesta_crons ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list crons: %w", err)
	}
	return collect(rows, scanCron, "cron")
}

// ClaimCronTick advances next_run_at only while it still equals
// expected.
func (s *Store) ClaimCronTick(ctx context.Context, entryID id.CronID, expected, next time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_crons
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND next_run_at = $2`,
		entryID.String(), micros(expected), micros(next),
	)
	if err != nil {
		return false, fmt.Errorf("orquesta/postgres: claim cron tick: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateCronEntry overwrites the mutable fields of an entry.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_crons SET
			schedule = $2, workflow_id = $3, last_run_at = $4,
			next_run_at = $5, enabled = $6, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Schedule, entry.WorkflowID,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: update cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orquesta_crons WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("orquesta/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrCronNotFound
	}
	return nil
}

func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e     cron.Entry
		idStr string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.WorkflowID, &e.LastRunAt, &e.NextRunAt, &e.Enabled,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseCronID(idStr); err != nil {
		return nil, fmt.Errorf("parse cron id %q: %w", idStr, err)
	}
	return &e, nil
}
