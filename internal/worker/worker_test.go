package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/storage/memory"
)

func seedTask(t *testing.T, store *memory.TaskStore, executor string) portal.Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), portal.Task{
		CompanyID: 1,
		GroupID:   40101,
		UserID:    7,
		Name:      "Blog-export",
		Executor:  executor,
		Status:    portal.TaskStatusQueued,
	})
	require.NoError(t, err)
	return task
}

func taskStatus(store *memory.TaskStore, id int64) portal.TaskStatus {
	task, err := store.GetTask(context.Background(), id)
	if err != nil {
		return -1
	}
	return task.Status
}

func TestWorker_ProcessTask_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, portal.ExecutorExportLayouts)
	queue := &fakeQueue{items: []portal.QueueItem{{TaskID: task.ID, Executor: task.Executor}}}
	publisher := newFakePublisher()

	var sawInProgress bool
	exec := ExecutorFunc(func(_ context.Context, got portal.Task) (Result, error) {
		sawInProgress = taskStatus(store, got.ID) == portal.TaskStatusInProgress
		return Result{
			Attachments: []portal.Attachment{{FileName: "Blog.lar", Size: 500, BlobURI: "memory://exports/1/Blog.lar"}},
			Message:     "exported 3 layouts",
		}, nil
	})

	w := New(queue, store, publisher, &fakeClock{now: time.Unix(100, 0)},
		map[string]Executor{portal.ExecutorExportLayouts: exec},
		Config{Topic: "tasks"}, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return taskStatus(store, task.ID) == portal.TaskStatusSuccessful
	}, time.Second, 10*time.Millisecond)
	cancel()

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, sawInProgress)
	require.True(t, got.Completed)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, "exported 3 layouts", got.StatusMessage)
	require.Len(t, got.Attachments, 1)
	require.Equal(t, "Blog.lar", got.Attachments[0].FileName)

	require.Eventually(t, func() bool { return publisher.count() == 1 }, time.Second, 10*time.Millisecond)
	msg := publisher.last()
	require.Equal(t, task.ID, msg["task_id"])
	require.Equal(t, int(portal.TaskStatusSuccessful), msg["status"])
	require.Equal(t, []string{"memory://exports/1/Blog.lar"}, msg["attachments"])
}

func TestWorker_ProcessTask_ExecutorErrorMarksFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, portal.ExecutorImportLayouts)
	queue := &fakeQueue{items: []portal.QueueItem{{TaskID: task.ID}}}

	exec := ExecutorFunc(func(context.Context, portal.Task) (Result, error) {
		return Result{}, errors.New("archive is corrupt")
	})
	w := New(queue, store, nil, &fakeClock{}, map[string]Executor{portal.ExecutorImportLayouts: exec}, Config{}, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return taskStatus(store, task.ID) == portal.TaskStatusFailed
	}, time.Second, 10*time.Millisecond)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, "archive is corrupt", got.StatusMessage)
	require.Empty(t, got.Attachments)
}

func TestWorker_ProcessTask_UnknownExecutor(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, "reindex")
	w := New(nil, store, nil, &fakeClock{}, nil, Config{}, zap.NewNop())

	w.processTask(context.Background(), portal.QueueItem{TaskID: task.ID})

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, portal.TaskStatusFailed, got.Status)
	require.Contains(t, got.StatusMessage, `"reindex"`)
}

func TestWorker_ProcessTask_Timeout(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, portal.ExecutorExportLayouts)
	exec := ExecutorFunc(func(ctx context.Context, _ portal.Task) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	w := New(nil, store, nil, &fakeClock{}, map[string]Executor{portal.ExecutorExportLayouts: exec},
		Config{TaskTimeout: 20 * time.Millisecond}, zap.NewNop())

	w.processTask(context.Background(), portal.QueueItem{TaskID: task.ID})

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, portal.TaskStatusFailed, got.Status)
	require.Contains(t, got.StatusMessage, "timed out")
}

func TestWorker_ProcessTask_PanicMarksFailed(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, portal.ExecutorExportLayouts)
	exec := ExecutorFunc(func(context.Context, portal.Task) (Result, error) {
		panic("boom")
	})
	w := New(nil, store, nil, &fakeClock{}, map[string]Executor{portal.ExecutorExportLayouts: exec}, Config{}, zap.NewNop())

	w.processTask(context.Background(), portal.QueueItem{TaskID: task.ID})

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, portal.TaskStatusFailed, got.Status)
	require.Contains(t, got.StatusMessage, "boom")
}

func TestWorker_ProcessTask_SkipsFinishedTask(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	store.Put(portal.Task{ID: 9, Executor: portal.ExecutorExportLayouts, Status: portal.TaskStatusCancelled})
	called := false
	exec := ExecutorFunc(func(context.Context, portal.Task) (Result, error) {
		called = true
		return Result{}, nil
	})
	w := New(nil, store, nil, &fakeClock{}, map[string]Executor{portal.ExecutorExportLayouts: exec}, Config{}, zap.NewNop())

	w.processTask(context.Background(), portal.QueueItem{TaskID: 9})

	require.False(t, called)
	require.Equal(t, portal.TaskStatusCancelled, taskStatus(store, 9))
}

func TestWorker_PublishFailureKeepsTaskResult(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, portal.ExecutorExportLayouts)
	publisher := newFakePublisher()
	publisher.err = errors.New("pubsub unavailable")
	exec := ExecutorFunc(func(context.Context, portal.Task) (Result, error) {
		return Result{Message: "ok"}, nil
	})
	w := New(nil, store, publisher, &fakeClock{}, map[string]Executor{portal.ExecutorExportLayouts: exec},
		Config{Topic: "tasks"}, zap.NewNop())

	w.processTask(context.Background(), portal.QueueItem{TaskID: task.ID})

	require.Equal(t, portal.TaskStatusSuccessful, taskStatus(store, task.ID))
}

func TestWorker_ProcessTask_SuccessDuringShutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewTaskStore()
	task := seedTask(t, store, portal.ExecutorExportLayouts)
	exec := ExecutorFunc(func(context.Context, portal.Task) (Result, error) {
		cancel()
		return Result{
			Attachments: []portal.Attachment{{FileName: "Blog.lar", Size: 500}},
			Message:     "exported 2 layouts",
		}, nil
	})
	w := New(nil, store, nil, &fakeClock{}, map[string]Executor{portal.ExecutorExportLayouts: exec}, Config{}, zap.NewNop())

	w.processTask(ctx, portal.QueueItem{TaskID: task.ID})

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, portal.TaskStatusSuccessful, got.Status)
	require.True(t, got.Completed)
	require.Equal(t, "exported 2 layouts", got.StatusMessage)
	require.Len(t, got.Attachments, 1)
}

func TestWorker_RunStopsOnClosedQueue(t *testing.T) {
	t.Parallel()

	w := New(closedQueue{}, memory.NewTaskStore(), nil, &fakeClock{}, nil, Config{}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker kept running on a closed queue")
	}
}

type closedQueue struct{}

func (closedQueue) Enqueue(context.Context, portal.QueueItem) error { return portal.ErrQueueClosed }

func (closedQueue) Dequeue(context.Context) (portal.QueueItem, error) {
	return portal.QueueItem{}, portal.ErrQueueClosed
}

func TestDeriveFinalStatus_ParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, _ := deriveFinalStatus(ctx, ctx, Result{}, ctx.Err())
	require.Equal(t, portal.TaskStatusCancelled, status)
}

func TestDeriveFinalStatus_SuccessDuringShutdownIsKept(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Result{
		Message:     "exported 2 layouts",
		Attachments: []portal.Attachment{{FileName: "blog.lar", Size: 10}},
	}
	status, message := deriveFinalStatus(ctx, ctx, result, nil)
	require.Equal(t, portal.TaskStatusSuccessful, status)
	require.Equal(t, "exported 2 layouts", message)
}

type fakeQueue struct {
	mu    sync.Mutex
	items []portal.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item portal.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (portal.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return portal.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []map[string]any
	err      error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{}
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := payload.(map[string]any); ok {
		p.messages = append(p.messages, m)
	}
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *fakePublisher) last() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
