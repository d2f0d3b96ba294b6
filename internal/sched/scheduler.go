// Package sched implements the priority task scheduler and its worker pool.
//
// Tasks carry a priority, optional dependencies on earlier tasks, a
// per-attempt timeout and a retry budget. The scheduler loop dispatches the
// highest-priority ready task to an idle worker whenever capacity allows.
// Workers are isolated goroutines that talk to the scheduler exclusively
// through correlated request/response messages: a panicking worker is
// evicted and replaced, a timed-out attempt is abandoned and its eventual
// late response discarded. One slow task can never block the others.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

// ErrQueueFull is returned by Submit when the pending queue is at capacity.
var ErrQueueFull = errors.New("QUEUE_FULL: task queue at capacity")

// ErrShuttingDown is returned by Submit after Shutdown began.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// Failure markers recorded in task results.
const (
	errTimedOut = "TIMED_OUT"
)

// Stats is a point-in-time snapshot of scheduler activity.
type Stats struct {
	Submitted   int64 `json:"submitted"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Retried     int64 `json:"retried"`
	TimedOut    int64 `json:"timedOut"`
	WorkersLost int64 `json:"workersLost"`
	QueueDepth  int   `json:"queueDepth"`
	Running     int   `json:"running"`
}

// inflight tracks one dispatched attempt until its response arrives or its
// deadline passes.
type inflight struct {
	task          *types.Task
	correlationID string
	workerID      int
	deadline      time.Time
	cancel        context.CancelFunc
}

// Scheduler owns the task queue, the completed/failed sets and the worker
// pool. All mutable state is guarded by mu; workers never touch it.
type Scheduler struct {
	cfg      config.SchedulerConfig
	log      *slog.Logger
	handlers map[types.TaskType]Handler

	mu        sync.Mutex
	queue     []*types.Task
	seq       map[string]int64 // task id -> insertion order, tie-break
	nextSeq   int64
	running   map[string]*inflight        // correlation id -> attempt
	abandoned map[string]struct{}         // correlations whose response must be dropped
	completed map[string]struct{}         // COMPLETED task ids (dependency set)
	failed    map[string]*types.Task      // terminally failed tasks
	statuses  map[string]types.TaskStatus // every known task id
	stats     Stats
	closed    bool

	workers   map[int]*worker
	idle      []int
	nextWID   int
	responses chan response

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a scheduler with an empty queue and no workers; Start spawns
// the pool and the dispatch loop.
func New(cfg config.SchedulerConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		log:       log.With("component", "scheduler"),
		handlers:  make(map[types.TaskType]Handler),
		seq:       make(map[string]int64),
		running:   make(map[string]*inflight),
		abandoned: make(map[string]struct{}),
		completed: make(map[string]struct{}),
		failed:    make(map[string]*types.Task),
		statuses:  make(map[string]types.TaskStatus),
		workers:   make(map[int]*worker),
		responses: make(chan response, cfg.Workers*2+4),
		done:      make(chan struct{}),
	}
}

// Register installs the handler for one task type. Must be called before
// Start; there is no locking on the handler map afterwards.
func (s *Scheduler) Register(t types.TaskType, h Handler) {
	s.handlers[t] = h
}

// Start spawns the worker pool and the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	for i := 0; i < s.cfg.Workers; i++ {
		s.spawnWorkerLocked()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("scheduler started", "workers", s.cfg.Workers, "maxConcurrent", s.cfg.MaxConcurrent)
}

func (s *Scheduler) spawnWorkerLocked() {
	id := s.nextWID
	s.nextWID++
	s.workers[id] = newWorker(id, s.responses, s.handlers, s.log)
	s.idle = append(s.idle, id)
}

// Submit enqueues one task and returns its id.
func (s *Scheduler) Submit(cfg types.TaskConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrShuttingDown
	}
	if len(s.queue) >= s.cfg.MaxQueueSize {
		return "", ErrQueueFull
	}

	now := time.Now()
	task := &types.Task{
		ID:           uuid.NewString(),
		Type:         cfg.Type,
		Priority:     clampPriority(cfg.Priority),
		Payload:      cfg.Payload,
		MaxRetries:   cfg.MaxRetries,
		Timeout:      cfg.Timeout,
		ScheduledAt:  cfg.ScheduledAt,
		Dependencies: cfg.Dependencies,
		Status:       types.TaskPending,
		CreatedAt:    now,
	}
	if task.Timeout <= 0 {
		task.Timeout = s.cfg.DefaultTimeout
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}

	s.enqueueLocked(task)
	s.stats.Submitted++
	return task.ID, nil
}

func (s *Scheduler) enqueueLocked(task *types.Task) {
	if _, ok := s.seq[task.ID]; !ok {
		s.seq[task.ID] = s.nextSeq
		s.nextSeq++
	}
	s.queue = append(s.queue, task)
	s.statuses[task.ID] = types.TaskPending
}

// Cancel removes a pending task. Running tasks are not interrupted.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.queue {
		if task.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			task.Status = types.TaskCancelled
			s.statuses[id] = types.TaskCancelled
			return true
		}
	}
	return false
}

// Status reports the lifecycle state of a known task id.
func (s *Scheduler) Status(id string) (types.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

// GetStats returns current counters and queue depths.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.QueueDepth = len(s.queue)
	st.Running = len(s.running)
	return st
}

// loop is the dispatch loop: a periodic tick for scheduling and timeout
// sweeps, plus immediate handling of worker responses.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case resp := <-s.responses:
			s.handleResponse(resp)
		case <-ticker.C:
			s.sweepTimeouts()
			s.dispatch()
		}
	}
}

// dispatch pops ready tasks while capacity allows.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for len(s.idle) > 0 && len(s.running) < s.cfg.MaxConcurrent {
		idx := s.pickReadyLocked(now)
		if idx < 0 {
			return
		}
		task := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.dispatchLocked(task, now)
	}
}

// pickReadyLocked returns the queue index of the highest-priority ready
// task. Ties break by earlier scheduledAt, then by insertion order.
func (s *Scheduler) pickReadyLocked(now time.Time) int {
	best := -1
	for i, task := range s.queue {
		if task.ScheduledAt.After(now) || !s.depsMetLocked(task) {
			continue
		}
		if best < 0 || s.beats(task, s.queue[best]) {
			best = i
		}
	}
	return best
}

func (s *Scheduler) beats(a, b *types.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return s.seq[a.ID] < s.seq[b.ID]
}

func (s *Scheduler) depsMetLocked(task *types.Task) bool {
	for _, dep := range task.Dependencies {
		if _, ok := s.completed[dep]; !ok {
			return false
		}
	}
	return true
}

func (s *Scheduler) dispatchLocked(task *types.Task, now time.Time) {
	wid := s.idle[len(s.idle)-1]
	s.idle = s.idle[:len(s.idle)-1]

	corr := uuid.NewString()
	attemptCtx, cancel := context.WithTimeout(context.Background(), task.Timeout)

	task.Status = types.TaskRunning
	task.StartedAt = now
	s.statuses[task.ID] = types.TaskRunning
	s.running[corr] = &inflight{
		task:          task,
		correlationID: corr,
		workerID:      wid,
		deadline:      now.Add(task.Timeout),
		cancel:        cancel,
	}

	s.workers[wid].requests <- request{correlationID: corr, task: *task, ctx: attemptCtx}
	s.log.Debug("task dispatched", "task", task.ID, "type", task.Type, "priority", task.Priority, "worker", wid)
}

// sweepTimeouts fails attempts whose deadline passed without a response.
// The worker may be stuck in a handler that ignores cancellation; its
// correlation is abandoned so a late response frees the worker without
// touching the task again.
func (s *Scheduler) sweepTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for corr, fl := range s.running {
		if now.Before(fl.deadline) {
			continue
		}
		fl.cancel()
		delete(s.running, corr)
		s.abandoned[corr] = struct{}{}
		s.stats.TimedOut++
		s.log.Warn("task timed out", "task", fl.task.ID, "type", fl.task.Type, "timeout", fl.task.Timeout)
		s.settleFailureLocked(fl.task, errTimedOut, now)
	}
}

func (s *Scheduler) handleResponse(resp response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resp.panicked {
		// Evict the dead worker and spawn a replacement regardless of
		// whether the attempt was still tracked.
		delete(s.workers, resp.workerID)
		s.removeIdleLocked(resp.workerID)
		s.spawnWorkerLocked()
		s.stats.WorkersLost++
		s.log.Error("worker replaced", "lostWorker", resp.workerID)
	}

	if _, stale := s.abandoned[resp.correlationID]; stale {
		delete(s.abandoned, resp.correlationID)
		if !resp.panicked {
			s.idle = append(s.idle, resp.workerID)
		}
		return
	}

	fl, ok := s.running[resp.correlationID]
	if !ok {
		if !resp.panicked {
			s.idle = append(s.idle, resp.workerID)
		}
		return
	}
	delete(s.running, resp.correlationID)
	fl.cancel()
	if !resp.panicked {
		s.idle = append(s.idle, resp.workerID)
	}

	now := time.Now()
	task := fl.task
	task.FinishedAt = now

	if resp.result.Err == "" {
		task.Status = types.TaskCompleted
		s.statuses[task.ID] = types.TaskCompleted
		s.completed[task.ID] = struct{}{}
		s.stats.Completed++
		s.log.Debug("task completed", "task", task.ID, "type", task.Type, "duration", resp.result.Duration)
		return
	}

	s.log.Warn("task attempt failed", "task", task.ID, "type", task.Type, "error", resp.result.Err, "retryCount", task.RetryCount)
	s.settleFailureLocked(task, resp.result.Err, now)
}

// settleFailureLocked applies the retry rule: re-enqueue with exponential
// backoff until the retry budget is exhausted, then fail terminally.
func (s *Scheduler) settleFailureLocked(task *types.Task, reason string, now time.Time) {
	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		backoff := time.Duration(1<<uint(task.RetryCount)) * time.Second
		task.ScheduledAt = now.Add(backoff)
		task.Status = types.TaskPending
		task.StartedAt = time.Time{}
		s.enqueueLocked(task)
		s.stats.Retried++
		s.log.Debug("task retry scheduled", "task", task.ID, "attempt", task.RetryCount, "backoff", backoff)
		return
	}
	task.Status = types.TaskFailed
	task.FinishedAt = now
	s.statuses[task.ID] = types.TaskFailed
	s.failed[task.ID] = task
	s.stats.Failed++
	s.log.Error("task failed terminally", "task", task.ID, "type", task.Type, "reason", reason)
}

func (s *Scheduler) removeIdleLocked(wid int) {
	for i, id := range s.idle {
		if id == wid {
			s.idle = append(s.idle[:i], s.idle[i+1:]...)
			return
		}
	}
}

// Shutdown stops accepting tasks, waits for running attempts up to the
// configured deadline, then stops the workers.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.ShutdownDeadline)
	for {
		s.mu.Lock()
		remaining := len(s.running)
		s.mu.Unlock()
		if remaining == 0 || time.Now().After(deadline) {
			if remaining > 0 {
				s.log.Warn("shutdown deadline reached with tasks running", "running", remaining)
			}
			break
		}
		// Drain responses directly so completions are recorded while the
		// loop is being torn down.
		select {
		case resp := <-s.responses:
			s.handleResponse(resp)
		case <-time.After(100 * time.Millisecond):
		}
	}

	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	clean := 0
	for _, w := range s.workers {
		close(w.requests)
		clean++
	}
	s.workers = make(map[int]*worker)
	s.idle = nil
	s.mu.Unlock()

	s.log.Info("scheduler stopped", "cleanWorkerExits", clean, "tasksCompleted", s.stats.Completed, "tasksFailed", s.stats.Failed)
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// FailedTasks returns the terminally failed tasks, newest state included
// (for /status inspection).
func (s *Scheduler) FailedTasks() []types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Task, 0, len(s.failed))
	for _, t := range s.failed {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.Before(out[j].FinishedAt) })
	return out
}
