package dlq

import (
	"encoding/json"
	"time"

	"github.com/orquesta/orquesta/id"
)

// Entry records a workflow run that failed terminally, for inspection
// or replay.
type Entry struct {
	ID         id.DLQID        `json:"id"`
	RunID      id.RunID        `json:"run_id"`
	WorkflowID string          `json:"workflow_id"`
	EventName  string          `json:"event_name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error"`
	Step       string          `json:"step,omitempty"`
	Attempts   int             `json:"attempts"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
