// Package job defines the job entity, its state machine, the handler
// registry and the store interface.
//
// Jobs carry the execution of workflow runs: each run is driven by one
// job whose payload names the run. A job moves through:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → pending (snoozed)
//	pending → running → failed
//
// A handler that returns [Snooze] parks the job until the given time
// without spending its retry budget.
//
// Register handlers at startup:
//
//	job.RegisterTyped(registry, "orquesta/run.execute",
//	    func(ctx context.Context, p RunPayload) error { ... })
package job
