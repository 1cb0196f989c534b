package queue

import (
	"cmp"
	"slices"
)

// PartitionConfig limits one partition of a queue. The engine sets one per
// workflow whose definition declares Concurrency or RateLimit.
type PartitionConfig struct {
	QueueName string
	// Partition is job.Partition, the workflow ID for run jobs.
	Partition string

	RateLimit float64
	RateBurst int
	// MaxConcurrency caps runs of the partition executing at once on this
	// engine. Zero means no cap.
	MaxConcurrency int
}

// SetPartitionConfig replaces the limits of one partition. Executions in
// flight keep their slots.
func (m *Manager) SetPartitionConfig(cfg PartitionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := slot{cfg.QueueName, cfg.Partition}
	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if prev := m.partitions[key]; prev != nil {
		g.active, g.denied = prev.active, prev.denied
	}
	m.partitions[key] = g
}

// PartitionActiveCount returns the executions in flight on a limited
// partition.
func (m *Manager) PartitionActiveCount(queue, partition string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.partitions[slot{queue, partition}]; g != nil {
		return g.active
	}
	return 0
}

// Usage is the admission state of one limited queue or partition.
type Usage struct {
	Queue          string  `json:"queue"`
	Partition      string  `json:"partition,omitempty"`
	Active         int     `json:"active"`
	MaxConcurrency int     `json:"max_concurrency,omitempty"`
	RateLimit      float64 `json:"rate_limit,omitempty"`
	Denied         uint64  `json:"denied"`
}

// Usage returns every limited queue and partition ordered by queue, then
// partition.
func (m *Manager) Usage() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Usage, 0, len(m.queues)+len(m.partitions))
	for name, g := range m.queues {
		out = append(out, g.usage(name, ""))
	}
	for key, g := range m.partitions {
		out = append(out, g.usage(key.queue, key.partition))
	}
	slices.SortFunc(out, func(a, b Usage) int {
		if c := cmp.Compare(a.Queue, b.Queue); c != 0 {
			return c
		}
		return cmp.Compare(a.Partition, b.Partition)
	})
	return out
}

func (g *gate) usage(queue, partition string) Usage {
	u := Usage{
		Queue:          queue,
		Partition:      partition,
		Active:         g.active,
		MaxConcurrency: g.max,
		Denied:         g.denied,
	}
	if g.limiter != nil {
		u.RateLimit = float64(g.limiter.Limit())
	}
	return u
}
