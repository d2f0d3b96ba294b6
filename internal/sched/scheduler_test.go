package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

func testSchedConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxQueueSize:     500,
		MaxConcurrent:    8,
		Workers:          2,
		TickInterval:     10 * time.Millisecond,
		DefaultTimeout:   time.Second,
		ShutdownDeadline: 2 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.Level(100)}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// recorder collects execution order across workers.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) record(label string) {
	r.mu.Lock()
	r.order = append(r.order, label)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	cfg := testSchedConfig()
	cfg.Workers = 1
	cfg.MaxConcurrent = 1

	s := New(cfg, discardLogger())
	rec := &recorder{}
	s.Register(types.TaskPerformanceMetrics, func(ctx context.Context, task types.Task) (map[string]any, error) {
		rec.record(task.Payload["label"].(string))
		return nil, nil
	})

	// All queued before the loop starts so the first tick sees all three.
	for _, tc := range []struct {
		label    string
		priority int
	}{
		{"low", 2}, {"high", 9}, {"mid", 5},
	} {
		if _, err := s.Submit(types.TaskConfig{
			Type:     types.TaskPerformanceMetrics,
			Priority: tc.priority,
			Payload:  map[string]any{"label": tc.label},
		}); err != nil {
			t.Fatalf("submit %s: %v", tc.label, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	waitFor(t, 2*time.Second, func() bool { return s.GetStats().Completed == 3 })

	got := rec.snapshot()
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	cfg := testSchedConfig()
	cfg.MaxQueueSize = 2
	s := New(cfg, discardLogger())

	for i := 0; i < 2; i++ {
		if _, err := s.Submit(types.TaskConfig{Type: types.TaskMemoryCleanup}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := s.Submit(types.TaskConfig{Type: types.TaskMemoryCleanup}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestDependencyGating(t *testing.T) {
	t.Parallel()
	s := New(testSchedConfig(), discardLogger())
	rec := &recorder{}
	s.Register(types.TaskPerformanceMetrics, func(ctx context.Context, task types.Task) (map[string]any, error) {
		rec.record(task.Payload["label"].(string))
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	firstID, err := s.Submit(types.TaskConfig{
		Type:     types.TaskPerformanceMetrics,
		Priority: 1,
		Payload:  map[string]any{"label": "first"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Higher priority but gated on the first task completing.
	if _, err := s.Submit(types.TaskConfig{
		Type:         types.TaskPerformanceMetrics,
		Priority:     10,
		Payload:      map[string]any{"label": "second"},
		Dependencies: []string{firstID},
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.GetStats().Completed == 2 })

	got := rec.snapshot()
	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("execution order = %v, want [first second]", got)
	}
}

func TestRetryBackoffAndTerminalFailure(t *testing.T) {
	t.Parallel()
	s := New(testSchedConfig(), discardLogger())

	now := time.Now()
	task := &types.Task{
		ID:         "t1",
		Type:       types.TaskMemoryCleanup,
		MaxRetries: 2,
		Status:     types.TaskRunning,
	}

	s.mu.Lock()
	s.settleFailureLocked(task, "boom", now)
	s.mu.Unlock()

	if task.Status != types.TaskPending || task.RetryCount != 1 {
		t.Fatalf("after first failure: status=%s retries=%d", task.Status, task.RetryCount)
	}
	if got, want := task.ScheduledAt.Sub(now), 2*time.Second; got != want {
		t.Errorf("first backoff = %s, want %s", got, want)
	}

	s.mu.Lock()
	s.queue = nil
	s.settleFailureLocked(task, "boom", now)
	s.mu.Unlock()
	if got, want := task.ScheduledAt.Sub(now), 4*time.Second; got != want {
		t.Errorf("second backoff = %s, want %s", got, want)
	}

	// Retry budget exhausted: terminal failure.
	s.mu.Lock()
	s.queue = nil
	s.settleFailureLocked(task, "boom", now)
	s.mu.Unlock()
	if task.Status != types.TaskFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if st, _ := s.Status("t1"); st != types.TaskFailed {
		t.Errorf("tracked status = %s, want FAILED", st)
	}
}

func TestWorkerPanicReplacesWorker(t *testing.T) {
	t.Parallel()
	cfg := testSchedConfig()
	cfg.Workers = 1
	cfg.MaxConcurrent = 1
	s := New(cfg, discardLogger())

	var calls int
	var mu sync.Mutex
	s.Register(types.TaskMemoryCleanup, func(ctx context.Context, task types.Task) (map[string]any, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("handler exploded")
		}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	// MaxRetries 1: the WORKER_LOST failure is retried and the replacement
	// worker completes the second attempt.
	if _, err := s.Submit(types.TaskConfig{Type: types.TaskMemoryCleanup, MaxRetries: 1}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 6*time.Second, func() bool { return s.GetStats().Completed == 1 })

	st := s.GetStats()
	if st.WorkersLost != 1 {
		t.Errorf("workersLost = %d, want 1", st.WorkersLost)
	}
	if st.Retried != 1 {
		t.Errorf("retried = %d, want 1", st.Retried)
	}
}

func TestTimeoutAbandonsAttempt(t *testing.T) {
	t.Parallel()
	cfg := testSchedConfig()
	cfg.Workers = 1
	cfg.MaxConcurrent = 1
	s := New(cfg, discardLogger())

	release := make(chan struct{})
	s.Register(types.TaskAPIHealthCheck, func(ctx context.Context, task types.Task) (map[string]any, error) {
		// Ignores cancellation on purpose: the sweep must fail the task
		// without waiting for this handler.
		<-release
		return nil, nil
	})
	s.Register(types.TaskMemoryCleanup, func(ctx context.Context, task types.Task) (map[string]any, error) {
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown()

	id, err := s.Submit(types.TaskConfig{
		Type:    types.TaskAPIHealthCheck,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return s.GetStats().TimedOut == 1 })
	if st, _ := s.Status(id); st != types.TaskFailed {
		t.Errorf("status = %s, want FAILED after timeout with no retries", st)
	}

	// Releasing the stuck handler frees the worker; its stale response is
	// discarded and the pool keeps serving.
	close(release)
	if _, err := s.Submit(types.TaskConfig{Type: types.TaskMemoryCleanup}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.GetStats().Completed == 1 })
}

func TestTieBreaksByScheduledAtThenInsertion(t *testing.T) {
	t.Parallel()
	s := New(testSchedConfig(), discardLogger())

	now := time.Now()
	a := &types.Task{ID: "a", Priority: 5, ScheduledAt: now.Add(-2 * time.Second)}
	b := &types.Task{ID: "b", Priority: 5, ScheduledAt: now.Add(-time.Second)}
	s.mu.Lock()
	s.enqueueLocked(b)
	s.enqueueLocked(a)
	s.mu.Unlock()

	if !s.beats(a, b) {
		t.Error("earlier scheduledAt must win the tie")
	}

	c := &types.Task{ID: "c", Priority: 5, ScheduledAt: a.ScheduledAt}
	s.mu.Lock()
	s.enqueueLocked(c)
	s.mu.Unlock()
	if !s.beats(b, c) {
		t.Error("earlier insertion must win when scheduledAt also ties")
	}

	high := &types.Task{ID: "d", Priority: 9, ScheduledAt: now}
	if !s.beats(high, a) {
		t.Error("higher priority must beat earlier scheduledAt")
	}
}

func TestSubmitAfterShutdownRejected(t *testing.T) {
	t.Parallel()
	s := New(testSchedConfig(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Shutdown()

	if _, err := s.Submit(types.TaskConfig{Type: types.TaskMemoryCleanup}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}

func TestPriorityClamped(t *testing.T) {
	t.Parallel()
	s := New(testSchedConfig(), discardLogger())

	id, err := s.Submit(types.TaskConfig{Type: types.TaskMemoryCleanup, Priority: 99})
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.queue {
		if task.ID == id && task.Priority != 10 {
			t.Errorf("priority = %d, want clamped 10", task.Priority)
		}
	}
}
