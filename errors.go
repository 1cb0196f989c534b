package orquesta

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("orquesta: no store configured")
	ErrStoreClosed     = errors.New("orquesta: store closed")
	ErrMigrationFailed = errors.New("orquesta: migration failed")

	// Not found errors.
	ErrJobNotFound      = errors.New("orquesta: job not found")
	ErrWorkflowNotFound = errors.New("orquesta: workflow not found")
	ErrRunNotFound      = errors.New("orquesta: run not found")
	ErrCronNotFound     = errors.New("orquesta: cron entry not found")
	ErrDLQNotFound      = errors.New("orquesta: dlq entry not found")
	ErrEventNotFound    = errors.New("orquesta: event not found")
	ErrWorkerNotFound   = errors.New("orquesta: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("orquesta: job already exists")
	ErrRunAlreadyExists  = errors.New("orquesta: run already exists")
	ErrDuplicateCron     = errors.New("orquesta: duplicate cron entry")
	ErrDuplicateWorkflow = errors.New("orquesta: duplicate workflow id")
	ErrDuplicateStep     = errors.New("orquesta: duplicate step name in run")
	ErrRunLocked         = errors.New("orquesta: run is locked by another worker")

	// State errors.
	ErrInvalidState       = errors.New("orquesta: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("orquesta: max retries exceeded")
	ErrRunCancelled       = errors.New("orquesta: run cancelled")

	// Cluster errors.
	ErrLeadershipLost = errors.New("orquesta: leadership lost")
	ErrNotLeader      = errors.New("orquesta: not the leader")
)
