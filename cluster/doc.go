// Package cluster provides worker registration and leader election for
// running several orquesta processes against one store.
//
// Each process registers itself as a [Worker] and sends periodic
// heartbeats. One worker at a time holds leadership; the leader fires
// cron entries. Leadership is a lease: [Store.AcquireLeadership] takes it
// when free or expired, and the holder must [Store.RenewLeadership]
// before the TTL elapses.
package cluster
