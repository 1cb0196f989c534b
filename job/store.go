package job

import (
	"context"
	"time"

	"github.com/orquesta/orquesta/id"
)

// ListOpts pages a job listing.
type ListOpts struct {
	Limit  int // zero means all
	Offset int
	Queue  string
}

// CountOpts filters CountJobs. Empty fields match everything.
type CountOpts struct {
	Queue string
	State State
}

// Store persists the execution jobs that drive runs. Every backend in
// store/ implements it next to workflow.Store.
type Store interface {
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs claims up to limit due jobs from queues for the calling
	// worker and marks them running. A job is due when it is pending or
	// retrying and its RunAt has passed. Higher Priority goes first, then
	// earlier RunAt. Two workers never claim the same job.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob overwrites a job. The executor uses it to settle, snooze
	// or retry a claimed job.
	UpdateJob(ctx context.Context, j *Job) error

	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs in state, oldest RunAt first.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob renews workerID's claim on a running job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose heartbeat is older than
	// threshold. The caller decides whether to reclaim them.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
