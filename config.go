package orquesta

import "time"

// Config holds engine-wide tuning.
type Config struct {
	// Concurrency is the number of runs executed at the same time.
	Concurrency int

	// Queues is the list of job queues this engine polls.
	Queues []string

	// PollInterval is how often idle workers poll for due executions.
	PollInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often in-flight executions heartbeat.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long an execution may go without a
	// heartbeat before it is handed to another worker.
	StaleJobThreshold time.Duration

	// RunLockTTL bounds how long one worker may hold a run.
	RunLockTTL time.Duration

	// LockRetryDelay is how long an execution waits when its run is
	// held by another worker.
	LockRetryDelay time.Duration

	// CronTickInterval is how often the scheduler looks for due entries.
	CronTickInterval time.Duration

	// LeaderTTL is the lease length for scheduler leadership.
	LeaderTTL time.Duration

	// DefaultRetries applies to definitions that do not set Retries.
	DefaultRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		RunLockTTL:        5 * time.Minute,
		LockRetryDelay:    time.Second,
		CronTickInterval:  time.Second,
		LeaderTTL:         15 * time.Second,
		DefaultRetries:    3,
	}
}
