package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, max_retries, retry_count,
	last_error, partition, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orquesta_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.Partition, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orquesta.ErrJobAlreadyExists
		}
		return fmt.Errorf("orquesta/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs with SKIP LOCKED so concurrent
// workers never receive the same job.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE orquesta_jobs
			SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM orquesta_jobs
				WHERE state IN ('pending', 'retrying')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: dequeue jobs: %w", err)
	}
	return collect(rows, scanJob, "job")
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM orquesta_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, orquesta.ErrJobNotFound
		}
		return nil, fmt.Errorf("orquesta/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orquesta_jobs SET
			name = $2, queue = $3, payload = $4, state = $5,
			priority = $6, max_retries = $7, retry_count = $8,
			last_error = $9, partition = $10, worker_id = $11,
			run_at = $12, started_at = $13, completed_at = $14,
			heartbeat_at = $15, timeout = $16, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, j.Partition, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orquesta_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("orquesta/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	q := newQuery(`SELECT ` + jobColumns + ` FROM orquesta_jobs`)
	q.and("state = $%d", string(state))
	if opts.Queue != "" {
		q.and("queue = $%d", opts.Queue)
	}
	q.page("created_at ASC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: list jobs by state: %w", err)
	}
	return collect(rows, scanJob, "job")
}

// HeartbeatJob stamps a running job as alive.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orquesta_jobs SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("orquesta/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orquesta.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM orquesta_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("orquesta/postgres: reap stale jobs: %w", err)
	}
	return collect(rows, scanJob, "job")
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := newQuery(`SELECT COUNT(*) FROM orquesta_jobs`)
	if opts.Queue != "" {
		q.and("queue = $%d", opts.Queue)
	}
	if opts.State != "" {
		q.and("state = $%d", string(opts.State))
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q.String(), q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("orquesta/postgres: count jobs: %w", err)
	}
	return n, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j               job.Job
		idStr, stateStr string
		workerStr       string
		timeoutNs       int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &j.Partition, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	if j.WorkerID, err = parseOptional(workerStr, id.PrefixWorker); err != nil {
		return nil, fmt.Errorf("parse worker id %q: %w", workerStr, err)
	}
	return &j, nil
}
