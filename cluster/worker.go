package cluster

import (
	"time"

	"github.com/orquesta/orquesta/id"
)

// WorkerState is where an engine process is in its lifecycle.
type WorkerState string

const (
	WorkerActive WorkerState = "active"
	// WorkerDraining finishes the runs it holds and takes no new ones.
	WorkerDraining WorkerState = "draining"
	// WorkerDead missed heartbeats; its in-flight executions are re-queued.
	WorkerDead WorkerState = "dead"
)

// Worker is one engine process sharing a store with others. Only the
// leader evaluates cron entries.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Queues      []string          `json:"queues"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
