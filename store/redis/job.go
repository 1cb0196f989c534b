package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
)

// claimScript pops up to ARGV[2] members of KEYS[1] with a score at or
// below ARGV[1].
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids`)

func queued(j *job.Job) bool {
	return j.State == job.StatePending || j.State == job.StateRetrying
}

// EnqueueJob stores the job and schedules it in its queue by RunAt.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	b, err := msgpack.Marshal(j)
	if err != nil {
		return fmt.Errorf("orquesta/redis: encode job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, jobKey(jID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("orquesta/redis: enqueue job: %w", err)
	}
	if !ok {
		return orquesta.ErrJobAlreadyExists
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, jID)
	if queued(j) {
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: score(j.RunAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims due jobs from each queue in turn. The claim script
// removes members atomically, so a job is handed to one worker only.
// Within a batch jobs are ordered by priority, then RunAt.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	var out []*job.Job
	for _, q := range queues {
		if limit > 0 && len(out) >= limit {
			break
		}
		n := limit - len(out)
		if limit <= 0 {
			n = 100
		}
		ids, err := claimScript.Run(ctx, s.client, []string{queueKey(q)},
			strconv.FormatInt(now.UnixMilli(), 10), n).StringSlice()
		if err != nil {
			return nil, fmt.Errorf("orquesta/redis: dequeue: %w", err)
		}
		for _, jID := range ids {
			var claimed *job.Job
			_, err := mutate(ctx, s.client, jobKey(jID), func(cur *job.Job) (*job.Job, error) {
				if cur == nil {
					return nil, nil
				}
				started := now
				cur.State = job.StateRunning
				cur.StartedAt = &started
				cur.HeartbeatAt = &started
				cur.UpdatedAt = now
				claimed = cur
				return cur, nil
			}, nil)
			if err != nil {
				return nil, fmt.Errorf("orquesta/redis: dequeue update: %w", err)
			}
			if claimed != nil {
				out = append(out, claimed)
			}
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].RunAt.Before(out[k].RunAt)
	})
	return out, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := load[job.Job](ctx, s.client, jobKey(jobID.String()))
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: get job: %w", err)
	}
	if j == nil {
		return nil, orquesta.ErrJobNotFound
	}
	return j, nil
}

// UpdateJob overwrites a job and keeps its queue membership in step
// with its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	wrote, err := mutate(ctx, s.client, jobKey(jID), func(cur *job.Job) (*job.Job, error) {
		if cur == nil {
			return nil, nil
		}
		next := *j
		next.UpdatedAt = time.Now().UTC()
		return &next, nil
	}, func(p goredis.Pipeliner, next *job.Job) {
		if queued(next) {
			p.ZAdd(ctx, queueKey(next.Queue), goredis.Z{Score: score(next.RunAt), Member: jID})
		} else {
			p.ZRem(ctx, queueKey(next.Queue), jID)
		}
	})
	if err != nil {
		return fmt.Errorf("orquesta/redis: update job: %w", err)
	}
	if !wrote {
		return orquesta.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	j, err := load[job.Job](ctx, s.client, jobKey(jID))
	if err != nil {
		return fmt.Errorf("orquesta/redis: delete job: %w", err)
	}
	if j == nil {
		return orquesta.ErrJobNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, queueKey(j.Queue), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orquesta/redis: delete job: %w", err)
	}
	return nil
}

func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, jID := range ids {
		keys[i] = jobKey(jID)
	}
	return loadMany[job.Job](ctx, s.client, keys)
}

// ListJobsByState returns jobs in state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: list jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if j.State != state || (opts.Queue != "" && j.Queue != opts.Queue) {
			continue
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return page(out, opts.Offset, opts.Limit), nil
}

// HeartbeatJob stamps a running job as alive.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	wrote, err := mutate(ctx, s.client, jobKey(jobID.String()), func(cur *job.Job) (*job.Job, error) {
		if cur == nil {
			return nil, nil
		}
		now := time.Now().UTC()
		cur.HeartbeatAt = &now
		cur.WorkerID = workerID
		return cur, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("orquesta/redis: heartbeat job: %w", err)
	}
	if !wrote {
		return orquesta.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("orquesta/redis: reap stale jobs: %w", err)
	}
	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range all {
		if j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("orquesta/redis: count jobs: %w", err)
	}
	var n int64
	for _, j := range all {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}
