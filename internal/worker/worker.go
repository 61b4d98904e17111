// Package worker runs background export/import tasks pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/metrics"
	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// Result is what an executor produced for a task.
type Result struct {
	Attachments []portal.Attachment
	Message     string
}

// Executor performs the work of one task kind.
type Executor interface {
	Execute(ctx context.Context, task portal.Task) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task portal.Task) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task portal.Task) (Result, error) {
	return f(ctx, task)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a completion event per task. Empty disables publishing.
	Topic string
	// TaskTimeout bounds a single execution. Zero means no limit.
	TaskTimeout time.Duration
}

// Worker consumes queue items and executes the registered executor.
type Worker struct {
	queue     portal.Queue
	tasks     portal.TaskStore
	publisher portal.Publisher
	clock     portal.Clock
	executors map[string]Executor
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue portal.Queue,
	tasks portal.TaskStore,
	publisher portal.Publisher,
	clock portal.Clock,
	executors map[string]Executor,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		tasks:     tasks,
		publisher: publisher,
		clock:     clock,
		executors: executors,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, portal.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.Int64("task_id", item.TaskID), zap.String("executor", item.Executor))
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item portal.QueueItem) {
	logger := w.logger.With(zap.Int64("task_id", item.TaskID), zap.String("executor", item.Executor))

	task, err := w.tasks.GetTask(ctx, item.TaskID)
	if err != nil {
		logger.Error("load task failed", zap.Error(err))
		return
	}
	if task.Status.Terminal() {
		logger.Info("skipping finished task", zap.Stringer("status", task.Status))
		return
	}

	exec, ok := w.executors[task.Executor]
	if !ok {
		w.finish(ctx, logger, task, portal.TaskStatusFailed, fmt.Sprintf("no executor registered for %q", task.Executor), nil, 0)
		return
	}

	if err := w.tasks.UpdateTask(ctx, task.ID, portal.TaskUpdate{Status: portal.TaskStatusInProgress}); err != nil {
		logger.Error("update task status failed", zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	start := w.clock.Now()
	result, err := w.execute(runCtx, exec, task)
	elapsed := w.clock.Now().Sub(start)

	status, message := deriveFinalStatus(ctx, runCtx, result, err)
	if err != nil {
		logger.Warn("task execution failed", zap.Error(err))
	}
	w.finish(ctx, logger, task, status, message, result.Attachments, elapsed)
}

// execute shields the worker from executor panics.
func (w *Worker) execute(ctx context.Context, exec Executor, task portal.Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, task)
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	task portal.Task,
	status portal.TaskStatus,
	message string,
	attachments []portal.Attachment,
	elapsed time.Duration,
) {
	// The final transition must land even when shutdown canceled ctx.
	ctx = context.WithoutCancel(ctx)

	if err := w.tasks.UpdateTask(ctx, task.ID, portal.TaskUpdate{
		Status:        status,
		StatusMessage: message,
		Attachments:   attachments,
	}); err != nil {
		logger.Error("final task status update failed", zap.Error(err))
		return
	}
	metrics.ObserveTask(task.Executor, status.String(), elapsed)
	logger.Info("task finished",
		zap.Stringer("status", status),
		zap.Int("attachments", len(attachments)),
		zap.Duration("elapsed", elapsed),
	)

	if err := w.publishResult(ctx, task, status, message, attachments); err != nil {
		logger.Error("publish task event failed", zap.Error(err))
	}
}

func (w *Worker) publishResult(
	ctx context.Context,
	task portal.Task,
	status portal.TaskStatus,
	message string,
	attachments []portal.Attachment,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	uris := make([]string, 0, len(attachments))
	for _, a := range attachments {
		uris = append(uris, a.BlobURI)
	}
	payload := map[string]any{
		"task_id":     task.ID,
		"group_id":    task.GroupID,
		"executor":    task.Executor,
		"status":      int(status),
		"message":     message,
		"attachments": uris,
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Debug("task event published", zap.Int64("task_id", task.ID), zap.String("message_id", id))
	return nil
}

func deriveFinalStatus(parent, run context.Context, result Result, err error) (portal.TaskStatus, string) {
	// A finished executor keeps its result even if shutdown began meanwhile.
	switch {
	case err == nil:
		return portal.TaskStatusSuccessful, result.Message
	case parent.Err() != nil:
		return portal.TaskStatusCancelled, "worker shut down before the task finished"
	case errors.Is(run.Err(), context.DeadlineExceeded):
		return portal.TaskStatusFailed, fmt.Sprintf("task timed out: %v", err)
	default:
		return portal.TaskStatusFailed, err.Error()
	}
}
