// Package dlq provides the dead letter queue for workflow runs that
// failed terminally. It supports inspection, replay, and purging.
//
// When a run fails, the runner calls [Service.PushRun]. The entry keeps
// the run's trigger payload, the final error message, and for step
// failures the failing step and its attempt count.
//
// Replaying an entry requeues the original run. Steps that completed
// before the failure keep their stored output; the failed step starts
// with a fresh attempt budget. Replay sets ReplayedAt on the entry, and
// an entry can be replayed once.
//
// The DLQ is exposed via the HTTP admin API:
//   - GET  /v1/dlq                   list entries
//   - GET  /v1/dlq/count             entry count
//   - GET  /v1/dlq/:entryId          a single entry
//   - POST /v1/dlq/:entryId/replay   replay one entry
//   - POST /v1/dlq/purge             purge old entries
package dlq
