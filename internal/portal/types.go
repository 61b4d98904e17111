// Package portal defines the core types shared across the site template subsystems.
package portal

import (
	"net/url"
	"time"
)

// User is a caller resolved from the user directory.
type User struct {
	ID        int64  `json:"id" mapstructure:"id"`
	CompanyID int64  `json:"company_id" mapstructure:"company_id"`
	Name      string `json:"name" mapstructure:"name"`
	// Locale is a BCP 47 tag. Empty means the platform default.
	Locale   string `json:"locale" mapstructure:"locale"`
	TimeZone string `json:"time_zone" mapstructure:"time_zone"`
}

// Template is a site template (layout-set prototype). Its layouts live in GroupID.
type Template struct {
	ID                int64             `json:"id"`
	CompanyID         int64             `json:"company_id"`
	GroupID           int64             `json:"group_id"`
	Name              map[string]string `json:"name"`
	Description       map[string]string `json:"description"`
	Active            bool              `json:"active"`
	LayoutsUpdateable bool              `json:"layouts_updateable"`
	CreatedBy         int64             `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
}

// NewTemplate captures the fields needed to create a Template.
type NewTemplate struct {
	CompanyID         int64
	UserID            int64
	Name              map[string]string
	Description       map[string]string
	Active            bool
	LayoutsUpdateable bool
}

// Layout is a page belonging to a template group.
type Layout struct {
	GroupID        int64               `json:"group_id"`
	PrivateLayout  bool                `json:"private_layout"`
	LayoutID       int64               `json:"layout_id"`
	ParentLayoutID int64               `json:"parent_layout_id"`
	Name           map[string]string   `json:"name"`
	FriendlyURL    string              `json:"friendly_url"`
	Type           string              `json:"type"`
	ThemeID        string              `json:"theme_id,omitempty"`
	Hidden         bool                `json:"hidden"`
	Settings       map[string]string   `json:"settings,omitempty"`
	Permissions    map[string][]string `json:"permissions,omitempty"`
	References     []Reference         `json:"references,omitempty"`
}

// Reference points from a layout to another entity an import must be able to resolve.
type Reference struct {
	ClassName string `json:"class_name"`
	Key       string `json:"key"`
}

// ConfigurationType distinguishes export and import configuration records.
type ConfigurationType int

// Configuration types persisted with each record.
const (
	ConfigurationTypeExportLayout ConfigurationType = 0
	ConfigurationTypeImportLayout ConfigurationType = 3
)

// String returns the record type label.
func (t ConfigurationType) String() string {
	switch t {
	case ConfigurationTypeExportLayout:
		return "export-layout"
	case ConfigurationTypeImportLayout:
		return "import-layout"
	default:
		return "unknown"
	}
}

// StatusApproved is the workflow status stamped on every configuration record.
const StatusApproved = 0

// Settings is the serializable settings map consumed by the archive engine.
type Settings struct {
	UserID        int64      `json:"user_id"`
	GroupID       int64      `json:"group_id"`
	PrivateLayout bool       `json:"private_layout"`
	LayoutIDs     []int64    `json:"layout_ids,omitempty"`
	Parameters    url.Values `json:"parameters"`
	Locale        string     `json:"locale,omitempty"`
	TimeZone      string     `json:"time_zone,omitempty"`
}

// Configuration is a persisted export or import configuration. It is never mutated after creation.
type Configuration struct {
	ID          int64             `json:"id"`
	UUID        string            `json:"uuid"`
	CompanyID   int64             `json:"company_id"`
	GroupID     int64             `json:"group_id"`
	UserID      int64             `json:"user_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        ConfigurationType `json:"type"`
	Settings    Settings          `json:"settings"`
	Status      int               `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TaskStatus is the numeric background task status code.
type TaskStatus int

// Background task status codes.
const (
	TaskStatusNew        TaskStatus = 0
	TaskStatusInProgress TaskStatus = 1
	TaskStatusFailed     TaskStatus = 2
	TaskStatusSuccessful TaskStatus = 3
	TaskStatusCancelled  TaskStatus = 4
	TaskStatusQueued     TaskStatus = 5
)

// String returns a label for logs and metrics.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusNew:
		return "new"
	case TaskStatusInProgress:
		return "in_progress"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusSuccessful:
		return "successful"
	case TaskStatusCancelled:
		return "cancelled"
	case TaskStatusQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends a task.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusFailed, TaskStatusSuccessful, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task executors understood by the task runner.
const (
	ExecutorExportLayouts = "export-layouts"
	ExecutorImportLayouts = "import-layouts"
)

// Attachment is an output file of a background task.
type Attachment struct {
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	BlobPath    string    `json:"blob_path"`
	BlobURI     string    `json:"blob_uri"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}

// Task is an asynchronously executed job.
type Task struct {
	ID              int64      `json:"id"`
	CompanyID       int64      `json:"company_id"`
	GroupID         int64      `json:"group_id"`
	UserID          int64      `json:"user_id"`
	Name            string     `json:"name"`
	Executor        string     `json:"executor"`
	ConfigurationID int64      `json:"configuration_id"`
	// InputPath is the blob path of an uploaded archive, set for imports.
	InputPath     string       `json:"input_path,omitempty"`
	Status        TaskStatus   `json:"status"`
	Completed     bool         `json:"completed"`
	StatusMessage string       `json:"status_message"`
	Attachments   []Attachment `json:"attachments"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// TaskUpdate carries a status transition recorded by a worker.
type TaskUpdate struct {
	Status        TaskStatus
	StatusMessage string
	Attachments   []Attachment
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID    int64
	Executor  string
	Attempt   int
	Submitted int64
}
