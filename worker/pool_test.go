package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orquesta/orquesta/id"
	"github.com/orquesta/orquesta/job"
	"github.com/orquesta/orquesta/middleware"
	"github.com/orquesta/orquesta/queue"
	"github.com/orquesta/orquesta/retry"
	"github.com/orquesta/orquesta/store/memory"
	"github.com/orquesta/orquesta/worker"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestPool(t *testing.T, concurrency int, onFailure worker.FailureHandler, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := silentLogger()
	s := memory.New()
	reg := job.NewRegistry()

	executor := worker.NewExecutor(
		reg, s, onFailure, retry.Constant{Interval: 10 * time.Millisecond}, logger,
		middleware.Recover(logger),
	)

	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
	}, opts...)
	pool := worker.NewPool(s, executor, logger, opts...)

	return pool, s, reg
}

func enqueue(t *testing.T, s *memory.Store, name string, payload any, opts ...job.Option) *job.Job {
	t.Helper()
	data, _ := json.Marshal(payload)
	j := job.New(name, data, opts...)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stop(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stop(t, pool)
	// Double stop should be no-op.
	stop(t, pool)
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var processed atomic.Bool
	job.RegisterTyped(reg, "greet", func(_ context.Context, p struct{ Name string }) error {
		if p.Name != "Ana" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Ana")
		}
		processed.Store(true)
		return nil
	})
	j := enqueue(t, s, "greet", struct{ Name string }{Name: "Ana"})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, processed.Load)
	stop(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

type recordingFailures struct {
	calls atomic.Int32
}

func (r *recordingFailures) JobFailed(context.Context, *job.Job, error) { r.calls.Add(1) }

func TestPool_FailedJobNotifiesHandler(t *testing.T) {
	failures := &recordingFailures{}
	pool, s, reg := setupTestPool(t, 1, failures)

	reg.Register("fail-job", func(context.Context, []byte) error {
		return context.DeadlineExceeded
	})
	j := enqueue(t, s, "fail-job", struct{}{}, job.WithMaxRetries(0))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool { return failures.calls.Load() == 1 })
	stop(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("job state = %q, want %q", got.State, job.StateFailed)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_SnoozeKeepsRetryBudget(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var calls atomic.Int32
	reg.Register("parked", func(context.Context, []byte) error {
		if calls.Add(1) == 1 {
			return job.Snooze(time.Now().Add(30 * time.Millisecond))
		}
		return nil
	})
	j := enqueue(t, s, "parked", struct{}{}, job.WithMaxRetries(0))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})
	stop(t, pool)

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestPool_PartitionConcurrency(t *testing.T) {
	qm := queue.NewManager()
	qm.SetPartitionConfig(queue.PartitionConfig{
		QueueName:      "default",
		Partition:      "procesar-pedido",
		MaxConcurrency: 1,
	})
	pool, s, reg := setupTestPool(t, 4, nil, worker.WithQueueManager(qm))

	var active, peak, done atomic.Int32
	reg.Register("slow", func(context.Context, []byte) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
		return nil
	})
	for range 3 {
		enqueue(t, s, "slow", struct{}{}, job.WithPartition("procesar-pedido"))
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool { return done.Load() == 3 })
	stop(t, pool)

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	stop(t, pool)
}

func TestPool_WorkerID(t *testing.T) {
	want := id.NewWorkerID()
	pool, _, _ := setupTestPool(t, 1, nil, worker.WithWorkerID(want))
	if pool.WorkerID().String() != want.String() {
		t.Errorf("WorkerID = %s, want %s", pool.WorkerID(), want)
	}
}

func TestPool_EachDeliveryGetsItsOwnClaim(t *testing.T) {
	pool, s, reg := setupTestPool(t, 2, nil)

	var (
		mu     sync.Mutex
		claims []job.Claim
	)
	reg.Register("parked", func(ctx context.Context, _ []byte) error {
		c, ok := job.ClaimFrom(ctx)
		if !ok {
			t.Error("handler context carries no claim")
			return nil
		}
		mu.Lock()
		claims = append(claims, c)
		n := len(claims)
		mu.Unlock()
		if n == 1 {
			return job.Snooze(time.Now().Add(20 * time.Millisecond))
		}
		return nil
	})
	j := enqueue(t, s, "parked", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})
	stop(t, pool)

	mu.Lock()
	defer mu.Unlock()
	if len(claims) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(claims))
	}
	if claims[0].Token == claims[1].Token {
		t.Errorf("both deliveries share claim token %q", claims[0].Token)
	}
	for _, c := range claims {
		if c.JobID.String() != j.ID.String() || c.WorkerID.String() != pool.WorkerID().String() {
			t.Errorf("claim = %+v, want job %s on worker %s", c, j.ID, pool.WorkerID())
		}
	}
	if st := pool.Stats(); st.Claimed != 2 || st.Active != 0 {
		t.Errorf("Stats() = %+v, want 2 claimed and none active", st)
	}
}
