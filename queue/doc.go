// Package queue admits claimed jobs against per-queue and per-partition
// limits.
//
// The engine puts every run execution on one queue and partitions it by
// workflow ID, so a [PartitionConfig] is how a definition's Concurrency
// and RateLimit are enforced:
//
//	m := queue.NewManager(queue.Config{Name: "default", MaxConcurrency: 20})
//	m.SetPartitionConfig(queue.PartitionConfig{
//	    QueueName:      "default",
//	    Partition:      "procesar-pedido",
//	    MaxConcurrency: 2,
//	})
//
// The worker pool calls [Manager.Admit] after claiming a job and
// [Manager.Release] once the job is settled. A refused job goes back to
// pending for the duration Admit reports, so a rate-limited workflow is
// retried when its next token is due rather than on every poll.
//
// Rate limits use golang.org/x/time/rate token buckets. Concurrency limits
// are counts of executions in flight on the local engine.
package queue
