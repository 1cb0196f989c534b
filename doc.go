// Package orquesta is a small durable-function engine. Functions are
// triggered by named events or cron schedules, run as a sequence of
// memoized steps, retry failed steps with backoff, and can sleep for
// long periods without holding a goroutine.
//
// Orquesta is a library first. Build an engine over a store, register
// workflow definitions, and send events:
//
//	eng, err := engine.New(memory.New(), engine.WithConcurrency(20))
//	err = eng.Register(functions.All(notifier)...)
//	evt, runIDs, err := eng.Send(ctx, "notificacion/enviar", payload)
//
// # Architecture
//
// Each subsystem (workflow, event, cron, dlq, job, cluster) defines its own
// store interface and a single backend implements all of them. Every run
// is driven by one execution job in the job queue: retries and sleeps
// reschedule that job into the future, so a waiting run only exists as
// persisted state.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package orquesta
