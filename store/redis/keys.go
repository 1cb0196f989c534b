package redis

const keyPrefix = "orquesta:"

func jobKey(id string) string     { return keyPrefix + "job:" + id }
func queueKey(name string) string { return keyPrefix + "queue:" + name }

const jobIDsKey = keyPrefix + "job_ids"

func runKey(id string) string      { return keyPrefix + "run:" + id }
func runLockKey(id string) string  { return keyPrefix + "run_lock:" + id }
func runIdemKey(key string) string { return keyPrefix + "run_key:" + key }

// runsKey is a sorted set of run IDs scored by creation time.
const runsKey = keyPrefix + "runs"

func checkpointKey(runID, step string) string {
	return keyPrefix + "checkpoint:" + runID + ":" + step
}

// checkpointIndexKey is the set of step names saved for a run.
func checkpointIndexKey(runID string) string { return keyPrefix + "checkpoint_idx:" + runID }

func cronKey(id string) string { return keyPrefix + "cron:" + id }

const (
	cronIDsKey   = keyPrefix + "cron_ids"
	cronNamesKey = keyPrefix + "cron_names"
)

func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is a sorted set of entry IDs scored by FailedAt.
const dlqIndexKey = keyPrefix + "dlq_idx"

func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventsKey is a sorted set of event IDs scored by creation time.
const eventsKey = keyPrefix + "events"

func workerKey(id string) string { return keyPrefix + "worker:" + id }

const (
	workerIDsKey = keyPrefix + "worker_ids"
	leaderKey    = keyPrefix + "leader"
)
