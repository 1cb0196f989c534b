package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config limits one queue across the local worker pool.
type Config struct {
	// Name matches job.Queue.
	Name string

	// MaxConcurrency caps executions in flight from the queue. Zero means
	// no cap beyond the pool size.
	MaxConcurrency int

	// RateLimit caps executions started per second. Zero means no cap.
	RateLimit float64

	// RateBurst defaults to 1 when RateLimit is set.
	RateBurst int
}

// gate is the admission state of a queue or of one partition of it.
type gate struct {
	max     int
	limiter *rate.Limiter
	active  int
	denied  uint64
}

func newGate(max int, perSecond float64, burst int) *gate {
	g := &gate{max: max}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return g
}

// reserve checks for a free slot and a rate token at now. On refusal wait
// is how long until a token is available, zero when the gate is full. A
// non-nil reservation must be cancelled if admission fails elsewhere.
func (g *gate) reserve(now time.Time) (res *rate.Reservation, wait time.Duration, ok bool) {
	if g.max > 0 && g.active >= g.max {
		return nil, 0, false
	}
	if g.limiter == nil {
		return nil, 0, true
	}
	res = g.limiter.ReserveN(now, 1)
	if !res.OK() {
		return nil, 0, false
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return nil, d, false
	}
	return res, 0, true
}

type slot struct{ queue, partition string }

// Manager admits claimed jobs against queue and partition limits. Run jobs
// are partitioned by workflow ID, so a partition limit caps one workflow.
// A slot is held only while an execution is in flight: a run that parks
// on a sleep or a retry snoozes its job and gives the slot back.
//
// It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	now        func() time.Time
	queues     map[string]*gate
	partitions map[slot]*gate
}

// NewManager creates a Manager. Queues without a Config are unlimited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		now:        time.Now,
		queues:     make(map[string]*gate, len(configs)),
		partitions: make(map[slot]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	}
	return m
}

// Admit takes a slot for one execution on queue and partition. When it
// refuses, retryAfter is how long the rate limit needs before the job can
// start, or zero when it waits on a concurrency slot. Rate tokens are only
// spent on admission. Every admitted execution must be paired with Release.
func (m *Manager) Admit(queue, partition string) (retryAfter time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	gates := []*gate{m.queues[queue]}
	if partition != "" {
		gates = append(gates, m.partitions[slot{queue, partition}])
	}

	var held []*rate.Reservation
	for _, g := range gates {
		if g == nil {
			continue
		}
		res, wait, admitted := g.reserve(now)
		if !admitted {
			for _, h := range held {
				h.CancelAt(now)
			}
			g.denied++
			return wait, false
		}
		if res != nil {
			held = append(held, res)
		}
	}
	for _, g := range gates {
		if g != nil {
			g.active++
		}
	}
	return 0, true
}

// Release returns the slot taken by Admit.
func (m *Manager) Release(queue, partition string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	release := func(g *gate) {
		if g != nil && g.active > 0 {
			g.active--
		}
	}
	release(m.queues[queue])
	if partition != "" {
		release(m.partitions[slot{queue, partition}])
	}
}

// SetQueueConfig replaces the limits of a queue. Executions in flight keep
// their slots.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if prev := m.queues[cfg.Name]; prev != nil {
		g.active, g.denied = prev.active, prev.denied
	}
	m.queues[cfg.Name] = g
}

// ActiveCount returns the executions in flight on a limited queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.queues[queue]; g != nil {
		return g.active
	}
	return 0
}
