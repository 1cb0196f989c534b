package cron

import (
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
)

// Entry is a persisted cron trigger of a workflow. Name is unique; the
// engine names each entry after its workflow.
type Entry struct {
	orquesta.Entity

	ID         id.CronID  `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	WorkflowID string     `json:"workflow_id"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// TickKey is the idempotency key of the run started for tick. Two firings
// of the same tick share it, so the second cannot create a run.
func TickKey(entryID id.CronID, tick time.Time) string {
	return "cron:" + entryID.String() + ":" + tick.UTC().Format(time.RFC3339)
}
