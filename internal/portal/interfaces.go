package portal

import (
	"context"
	"io"
	"time"
)

// UserDirectory resolves users by id.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (User, error)
}

// TemplateStore persists site templates.
type TemplateStore interface {
	ListTemplates(ctx context.Context, companyID int64) ([]Template, error)
	CreateTemplate(ctx context.Context, tmpl NewTemplate) (Template, error)
	GetTemplateByGroup(ctx context.Context, groupID int64) (Template, error)
}

// LayoutStore persists the layouts of template groups.
type LayoutStore interface {
	ListLayouts(ctx context.Context, groupID int64, privateLayout bool) ([]Layout, error)
	GetLayouts(ctx context.Context, groupID int64, privateLayout bool, layoutIDs []int64) ([]Layout, error)
	UpsertLayout(ctx context.Context, layout Layout) error
	DeleteLayout(ctx context.Context, groupID int64, privateLayout bool, layoutID int64) error
}

// ConfigurationStore persists export/import configuration records.
type ConfigurationStore interface {
	CreateConfiguration(ctx context.Context, cfg Configuration) (Configuration, error)
	GetConfiguration(ctx context.Context, id int64) (Configuration, error)
}

// TaskStore persists background tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) (Task, error)
	UpdateTask(ctx context.Context, taskID int64, update TaskUpdate) error
	GetTask(ctx context.Context, taskID int64) (Task, error)
}

// BlobStore writes and reads binary artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes task completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for background tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque string ids (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
