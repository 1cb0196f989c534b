// Package middleware wraps the execution of queued jobs. Every run
// execution, whether first attempt, retry or wake-up after a sleep, goes
// through the chain the engine builds:
//
//	Chain(Recover(logger), Tracing(), Metrics(), Logging(logger), Timeout(logger))
//
// The first middleware is the outermost. A job that returns job.Snooze
// (a parked run) is reported with status "snoozed", never as an error.
package middleware
