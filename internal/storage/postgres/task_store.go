package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// TaskStore persists background tasks. Attachments live in a JSONB array.
type TaskStore struct {
	db    querier
	table string
	now   func() time.Time
}

// NewTaskStore wraps a pool. An empty table selects the default.
func NewTaskStore(db querier, table string) (*TaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "background_tasks")
	if err != nil {
		return nil, err
	}
	return &TaskStore{db: db, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateTask inserts the task and returns it with its new id.
func (s *TaskStore) CreateTask(ctx context.Context, task portal.Task) (portal.Task, error) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	attachments, err := marshalAttachments(task.Attachments)
	if err != nil {
		return portal.Task{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (company_id, group_id, user_id, name, executor, configuration_id, input_path,
	status, completed, status_message, attachments, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id`, s.table)

	err = s.db.QueryRow(ctx, query,
		task.CompanyID,
		task.GroupID,
		task.UserID,
		task.Name,
		task.Executor,
		task.ConfigurationID,
		task.InputPath,
		int(task.Status),
		task.Completed,
		task.StatusMessage,
		attachments,
		task.CreatedAt,
	).Scan(&task.ID)
	if err != nil {
		return portal.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// UpdateTask records a status transition and appends attachments. Terminal
// statuses also stamp completed and completed_at.
func (s *TaskStore) UpdateTask(ctx context.Context, taskID int64, update portal.TaskUpdate) error {
	attachments, err := marshalAttachments(update.Attachments)
	if err != nil {
		return err
	}
	terminal := update.Status.Terminal()
	var completedAt *time.Time
	if terminal {
		now := s.now()
		completedAt = &now
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	status_message = $2,
	attachments = attachments || $3::jsonb,
	completed = completed OR $4,
	completed_at = COALESCE($5, completed_at)
WHERE id = $6`, s.table)

	tag, err := s.db.Exec(ctx, query,
		int(update.Status),
		update.StatusMessage,
		attachments,
		terminal,
		completedAt,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("update task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, portal.ErrNotFound)
	}
	return nil
}

// GetTask loads a task by id.
func (s *TaskStore) GetTask(ctx context.Context, taskID int64) (portal.Task, error) {
	query := fmt.Sprintf(`
SELECT id, company_id, group_id, user_id, name, executor, configuration_id, input_path,
	status, completed, status_message, attachments, created_at, completed_at
FROM %s WHERE id = $1`, s.table)

	var (
		task        portal.Task
		status      int
		attachments []byte
	)
	err := s.db.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.CompanyID,
		&task.GroupID,
		&task.UserID,
		&task.Name,
		&task.Executor,
		&task.ConfigurationID,
		&task.InputPath,
		&status,
		&task.Completed,
		&task.StatusMessage,
		&attachments,
		&task.CreatedAt,
		&task.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return portal.Task{}, fmt.Errorf("task %d: %w", taskID, portal.ErrNotFound)
	}
	if err != nil {
		return portal.Task{}, fmt.Errorf("select task %d: %w", taskID, err)
	}
	task.Status = portal.TaskStatus(status)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &task.Attachments); err != nil {
			return portal.Task{}, fmt.Errorf("decode attachments of task %d: %w", taskID, err)
		}
	}
	if len(task.Attachments) == 0 {
		task.Attachments = nil
	}
	return task, nil
}

func marshalAttachments(atts []portal.Attachment) ([]byte, error) {
	if len(atts) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(atts)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return data, nil
}
