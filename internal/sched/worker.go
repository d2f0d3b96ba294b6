package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentrycoin/pkg/types"
)

// Handler executes one task attempt. It must honor ctx: the scheduler
// cancels it on timeout and shutdown.
type Handler func(ctx context.Context, task types.Task) (map[string]any, error)

// request is one dispatched task attempt. The correlation id ties the
// response back to the attempt: a response for an abandoned correlation
// (timed out, shutdown) is discarded instead of completing a later attempt.
type request struct {
	correlationID string
	task          types.Task
	ctx           context.Context
}

// response is what a worker sends back for one attempt.
type response struct {
	correlationID string
	workerID      int
	result        types.TaskResult
	panicked      bool
}

// worker is one isolated execution unit. It shares no state with the
// scheduler beyond its request channel and the common response channel;
// a panic kills the worker and the scheduler spawns a replacement.
type worker struct {
	id       int
	requests chan request
	log      *slog.Logger
}

func newWorker(id int, responses chan<- response, handlers map[types.TaskType]Handler, log *slog.Logger) *worker {
	w := &worker{
		id:       id,
		requests: make(chan request, 1),
		log:      log.With("worker", id),
	}
	go w.run(responses, handlers)
	return w
}

func (w *worker) run(responses chan<- response, handlers map[types.TaskType]Handler) {
	w.log.Debug("worker started")
	for req := range w.requests {
		resp := w.execute(req, handlers)
		responses <- resp
		if resp.panicked {
			// The goroutine dies with the panic it absorbed; the scheduler
			// replaces the worker on receipt of the response.
			w.log.Error("worker lost after panic", "task", req.task.ID)
			return
		}
	}
	w.log.Debug("worker stopped")
}

// execute runs one attempt with panic containment.
func (w *worker) execute(req request, handlers map[types.TaskType]Handler) (resp response) {
	start := time.Now()
	resp = response{correlationID: req.correlationID, workerID: w.id}

	defer func() {
		if r := recover(); r != nil {
			resp.panicked = true
			resp.result = types.TaskResult{
				TaskID:   req.task.ID,
				Err:      fmt.Sprintf("WORKER_LOST: %v", r),
				Duration: time.Since(start),
			}
		}
	}()

	handler, ok := handlers[req.task.Type]
	if !ok {
		resp.result = types.TaskResult{
			TaskID:   req.task.ID,
			Err:      fmt.Sprintf("no handler registered for task type %s", req.task.Type),
			Duration: time.Since(start),
		}
		return resp
	}

	data, err := handler(req.ctx, req.task)
	resp.result = types.TaskResult{
		TaskID:   req.task.ID,
		Data:     data,
		Duration: time.Since(start),
	}
	if err != nil {
		resp.result.Err = err.Error()
	}
	return resp
}
