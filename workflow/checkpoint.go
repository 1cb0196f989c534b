package workflow

import (
	"encoding/json"
	"time"

	"github.com/orquesta/orquesta/id"
)

// StepKind distinguishes work steps from sleeps.
type StepKind string

const (
	StepKindStep  StepKind = "step"
	StepKindSleep StepKind = "sleep"
)

// Checkpoint is the persisted state of one named step in one run. Once
// Completed is true its Output never changes.
type Checkpoint struct {
	ID        id.CheckpointID `json:"id"`
	RunID     id.RunID        `json:"run_id"`
	StepName  string          `json:"step_name"`
	Kind      StepKind        `json:"kind"`
	Seq       int             `json:"seq"`
	Output    json.RawMessage `json:"output,omitempty"`
	Completed bool            `json:"completed"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	WakeAt    *time.Time      `json:"wake_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
