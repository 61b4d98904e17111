package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// TaskStore provides an in-memory background task store for development/testing.
type TaskStore struct {
	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]portal.Task
	now    func() time.Time
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[int64]portal.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask stores a new task and assigns its id.
func (s *TaskStore) CreateTask(_ context.Context, task portal.Task) (portal.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	task.ID = s.nextID
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	task.Attachments = cloneAttachments(task.Attachments)
	s.tasks[task.ID] = task
	return cloneTask(task), nil
}

// UpdateTask records a status transition and appends attachments.
func (s *TaskStore) UpdateTask(_ context.Context, taskID int64, update portal.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d: %w", taskID, portal.ErrNotFound)
	}
	task.Status = update.Status
	task.StatusMessage = update.StatusMessage
	task.Attachments = append(task.Attachments, cloneAttachments(update.Attachments)...)
	if update.Status.Terminal() {
		task.Completed = true
		now := s.now()
		task.CompletedAt = &now
	}
	s.tasks[taskID] = task
	return nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(_ context.Context, taskID int64) (portal.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return portal.Task{}, fmt.Errorf("task %d: %w", taskID, portal.ErrNotFound)
	}
	return cloneTask(task), nil
}

// Put stores a task verbatim, replacing any task with the same id. Intended for tests and fixtures.
func (s *TaskStore) Put(task portal.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.Attachments = cloneAttachments(task.Attachments)
	s.tasks[task.ID] = task
	if task.ID > s.nextID {
		s.nextID = task.ID
	}
}

func cloneTask(t portal.Task) portal.Task {
	t.Attachments = cloneAttachments(t.Attachments)
	return t
}

func cloneAttachments(src []portal.Attachment) []portal.Attachment {
	if len(src) == 0 {
		return nil
	}
	out := make([]portal.Attachment, len(src))
	copy(out, src)
	return out
}
