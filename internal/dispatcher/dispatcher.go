// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

// Dispatcher records new tasks and fans queued work out to a pool of workers.
type Dispatcher struct {
	queue   portal.Queue
	tasks   portal.TaskStore
	clock   portal.Clock
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue portal.Queue,
	tasks portal.TaskStore,
	clock portal.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		tasks:   tasks,
		clock:   clock,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit persists task in the queued state and hands it to the workers.
// The returned task carries its assigned id.
func (d *Dispatcher) Submit(ctx context.Context, task portal.Task) (portal.Task, error) {
	task.Status = portal.TaskStatusQueued
	task.Completed = false
	if task.CreatedAt.IsZero() {
		task.CreatedAt = d.clock.Now()
	}
	created, err := d.tasks.CreateTask(ctx, task)
	if err != nil {
		return portal.Task{}, fmt.Errorf("create task: %w", err)
	}

	item := portal.QueueItem{
		TaskID:    created.ID,
		Executor:  created.Executor,
		Attempt:   1,
		Submitted: created.CreatedAt.Unix(),
	}
	if err := d.Enqueue(ctx, item); err != nil {
		if uerr := d.tasks.UpdateTask(context.WithoutCancel(ctx), created.ID, portal.TaskUpdate{
			Status:        portal.TaskStatusFailed,
			StatusMessage: err.Error(),
		}); uerr != nil {
			d.logger.Error("mark unqueued task failed", zap.Int64("task_id", created.ID), zap.Error(uerr))
		}
		return portal.Task{}, err
	}
	d.logger.Info("task submitted",
		zap.Int64("task_id", created.ID),
		zap.String("executor", created.Executor),
		zap.Int64("group_id", created.GroupID),
	)
	return created, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item portal.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
