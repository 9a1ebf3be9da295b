package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
)

// WorkerPool runs a fixed number of goroutines that claim and process queued
// tasks whose type has a registered processor.
type WorkerPool struct {
	svc          *Service
	registry     *Registry
	workers      int
	notify       chan struct{}
	pollInterval time.Duration
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(svc *Service, registry *Registry, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		svc:          svc,
		registry:     registry,
		workers:      workers,
		notify:       make(chan struct{}, 1),
		pollInterval: 5 * time.Second,
	}
}

// Notify wakes idle workers to check for queued tasks. Non-blocking.
func (wp *WorkerPool) Notify() {
	select {
	case wp.notify <- struct{}{}:
	default:
	}
}

// Run starts worker goroutines and blocks until ctx is cancelled and all
// workers have drained.
func (wp *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range wp.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wp.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (wp *WorkerPool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		wp.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-wp.notify:
		case <-ticker.C:
		}
	}
}

func (wp *WorkerPool) drain(ctx context.Context, id int) {
	types := wp.registry.Types()
	if len(types) == 0 {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		t, err := wp.svc.Claim(ctx, types)
		if err != nil {
			if ctx.Err() != nil {
				return // shutting down
			}
			slog.Error("worker: claim queued", "worker", id, "error", err)
			return
		}
		if t == nil {
			return
		}

		slog.Info("worker: processing task", "worker", id, "task", t.ID, "type", t.Type)

		p, err := wp.registry.Get(t.Type)
		if err == nil {
			err = p.Process(ctx, t)
		}
		if err != nil {
			slog.Error("worker: process task", "worker", id, "task", t.ID, "error", err)
			wp.failOpen(ctx, t.ID, err)
		}
	}
}

// failOpen fails a task the processor gave up on, unless it already reached a
// terminal state on its own.
func (wp *WorkerPool) failOpen(ctx context.Context, taskID string, cause error) {
	req := FailRequest{TaskID: taskID, Code: "PROCESSING_ERROR", Message: cause.Error()}
	var se *StepError
	if errors.As(cause, &se) {
		req.Code = se.Code
		req.Message = se.Err.Error()
	}
	_, err := wp.svc.Fail(ctx, req)
	if err != nil && !apperror.Is(err, apperror.InvalidState) {
		slog.Error("worker: fail task", "task", taskID, "error", err)
	}
}
