package cluster

import (
	"context"
	"time"

	"github.com/orquesta/orquesta/id"
)

// Store persists engine processes and the leader lease.
type Store interface {
	RegisterWorker(ctx context.Context, w *Worker) error
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker refreshes LastSeen.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers removes and returns workers not seen within
	// threshold.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership takes the lease when it is free or expired.
	// Acquiring a lease already held by workerID extends it.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the lease only if workerID still holds it.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns nil when no live lease exists.
	GetLeader(ctx context.Context) (*Worker, error)
}
