// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/queue/memory"
	storemem "github.com/JakeFAU/site-template-ci/internal/storage/memory"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(queue, nil, nil, []*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil, nil, nil, zap.NewNop())

	err := dispatch.Enqueue(context.Background(), portal.QueueItem{TaskID: 1})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestDispatcherSubmitQueuesTask(t *testing.T) {
	t.Parallel()

	tasks := storemem.NewTaskStore()
	queue := memory.NewQueue(1)
	now := time.Unix(1700000000, 0).UTC()
	dispatch := New(queue, tasks, fixedClock(now), nil, zap.NewNop())

	task, err := dispatch.Submit(context.Background(), portal.Task{
		Name:     "Blog-export",
		Executor: portal.ExecutorExportLayouts,
		GroupID:  40101,
		Status:   portal.TaskStatusSuccessful,
	})
	require.NoError(t, err)
	require.NotZero(t, task.ID)
	require.Equal(t, portal.TaskStatusQueued, task.Status)
	require.Equal(t, now, task.CreatedAt)

	item, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, task.ID, item.TaskID)
	require.Equal(t, portal.ExecutorExportLayouts, item.Executor)
	require.Equal(t, 1, item.Attempt)
	require.Equal(t, now.Unix(), item.Submitted)
}

func TestDispatcherSubmitMarksTaskFailedWhenQueueRejects(t *testing.T) {
	t.Parallel()

	tasks := storemem.NewTaskStore()
	dispatch := New(&errorQueue{err: errors.New("full")}, tasks, fixedClock(time.Now()), nil, zap.NewNop())

	_, err := dispatch.Submit(context.Background(), portal.Task{Executor: portal.ExecutorImportLayouts})
	require.EqualError(t, err, "queue enqueue: full")

	stored, err := tasks.GetTask(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, portal.TaskStatusFailed, stored.Status)
	require.True(t, stored.Completed)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ portal.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (portal.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return portal.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, portal.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (portal.QueueItem, error) {
	return portal.QueueItem{}, nil
}
