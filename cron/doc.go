// Package cron provides distributed cron scheduling of workflows.
//
// Cron entries are stored in the database and fired only by the cluster
// leader. The run started for a due tick carries an idempotency key
// derived from the tick ([TickKey]), and the entry is then advanced with
// a compare-and-set on its NextRunAt ([Store.ClaimCronTick]). A tick
// therefore starts exactly one run even when leadership changes hands
// mid-tick.
//
// Ticks missed while no instance was running fire once when the
// scheduler next runs; the following tick is computed from the current
// time, so a backlog is never replayed.
//
// Schedules use the standard five-field syntax plus descriptors such as
// "@hourly" or "@every 30s":
//
//	0 */2 * * *    every two hours, on the hour
package cron
