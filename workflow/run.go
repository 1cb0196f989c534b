package workflow

import (
	"encoding/json"
	"time"

	"github.com/orquesta/orquesta"
	"github.com/orquesta/orquesta/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateQueued means the run waits for a worker, either for its
	// first execution or for a step retry at WakeAt.
	RunStateQueued RunState = "queued"
	// RunStateRunning means a worker is replaying the handler.
	RunStateRunning RunState = "running"
	// RunStateSleeping means the run is parked until WakeAt.
	RunStateSleeping RunState = "sleeping"
	// RunStateCompleted means the handler returned successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means a step exhausted its attempts or the handler
	// failed outside a step.
	RunStateFailed RunState = "failed"
	// RunStateCancelled means the run was cancelled before completing.
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether no further execution will happen.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateCancelled
}

// Run is one execution of a workflow definition for one trigger.
type Run struct {
	orquesta.Entity

	ID             id.RunID        `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	EventID        id.EventID      `json:"event_id,omitempty"`
	EventName      string          `json:"event_name"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	State          RunState        `json:"state"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	FailedStep     string          `json:"failed_step,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	WakeAt         *time.Time      `json:"wake_at,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`

	// Run lock. LockedBy is the lease token of the owning execution.
	// Stores manage these through AcquireRunLock and ReleaseRunLock only;
	// UpdateRun and TransitionRun leave them untouched.
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}
