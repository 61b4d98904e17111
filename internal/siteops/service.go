// Package siteops orchestrates site template exports, imports and task
// artifact retrieval on behalf of an authenticated caller.
package siteops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/auth"
	"github.com/JakeFAU/site-template-ci/internal/lar"
	"github.com/JakeFAU/site-template-ci/internal/metrics"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/telemetry"
)

// Configuration record names are prefixed with these.
const (
	exportNamePrefix = "CI Export-"
	importNamePrefix = "CI Import: "
)

// TemplateResolver finds (or creates) a site template by display name.
type TemplateResolver interface {
	Resolve(ctx context.Context, user portal.User, name string, createIfMissing bool) (portal.Template, error)
}

// ConfigBuilder persists export/import configuration records.
type ConfigBuilder interface {
	BuildExportConfig(
		ctx context.Context, user portal.User, groupID int64, layoutIDs []int64, name string,
	) (portal.Configuration, error)
	BuildImportConfig(
		ctx context.Context, user portal.User, groupID int64, privateLayout bool, name string,
	) (portal.Configuration, error)
}

// ArchiveService validates archives and dispatches background export/import tasks.
type ArchiveService interface {
	Validate(ctx context.Context, cfg portal.Configuration, data []byte) ([]lar.MissingReference, error)
	ExportInBackground(ctx context.Context, userID int64, cfg portal.Configuration) (int64, error)
	ImportInBackground(ctx context.Context, userID int64, cfg portal.Configuration, data []byte) (int64, error)
}

// Service handles the site template operations.
type Service struct {
	users    portal.UserDirectory
	resolver TemplateResolver
	builder  ConfigBuilder
	archives ArchiveService
	layouts  portal.LayoutStore
	tasks    portal.TaskStore
	blobs    portal.BlobStore
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New constructs a Service.
func New(
	users portal.UserDirectory,
	resolver TemplateResolver,
	builder ConfigBuilder,
	archives ArchiveService,
	layouts portal.LayoutStore,
	tasks portal.TaskStore,
	blobs portal.BlobStore,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    users,
		resolver: resolver,
		builder:  builder,
		archives: archives,
		layouts:  layouts,
		tasks:    tasks,
		blobs:    blobs,
		tracer:   telemetry.Tracer(),
		logger:   logger,
	}
}

// ExportResult is returned by ExportSiteTemplate.
type ExportResult struct {
	BackgroundTaskID int64 `json:"backgroundTaskId"`
	LayoutCount      int   `json:"layoutCount"`
}

// ImportRequest carries the inputs of ImportSiteTemplate. Archive holds the
// whole uploaded body.
type ImportRequest struct {
	TemplateName    string
	PrivateLayout   bool
	Validate        bool
	Force           bool
	CreateIfMissing bool
	Archive         []byte
}

// Validation summarizes an import validation.
type Validation struct {
	// Performed is false when the caller skipped validation.
	Performed            bool                   `json:"-"`
	HasMissingReferences bool                   `json:"hasMissingReferences"`
	MissingReferences    []lar.MissingReference `json:"missingReferences,omitempty"`
}

// ImportResult is returned by ImportSiteTemplate.
type ImportResult struct {
	BackgroundTaskID int64      `json:"backgroundTaskId"`
	TemplateGroupID  int64      `json:"templateGroupId"`
	Validation       Validation `json:"validation"`
}

// ValidationError reports an import blocked by unresolved references.
type ValidationError struct {
	Missing []lar.MissingReference
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d missing references, use force=true to proceed", len(e.Missing))
}

// Unwrap lets callers match portal.ErrConflict.
func (e *ValidationError) Unwrap() error {
	return portal.ErrConflict
}

// Status is the raw state of a background task.
type Status struct {
	Status        int    `json:"status"`
	Completed     bool   `json:"completed"`
	StatusMessage string `json:"statusMessage"`
}

// Archive is an open task artifact. Callers must close Body.
type Archive struct {
	Attachment portal.Attachment
	Body       io.ReadCloser
}

// ExportSiteTemplate queues an export of every private layout of the named template.
func (s *Service) ExportSiteTemplate(ctx context.Context, templateName string) (res ExportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "siteops.ExportSiteTemplate",
		trace.WithAttributes(attribute.String("template.name", templateName)))
	defer func() { endSpan(span, err) }()

	user, err := s.caller(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	if strings.TrimSpace(templateName) == "" {
		return ExportResult{}, fmt.Errorf("%w: missing templateName", portal.ErrBadRequest)
	}

	tmpl, err := s.resolver.Resolve(ctx, user, templateName, false)
	if err != nil {
		return ExportResult{}, err
	}
	span.SetAttributes(attribute.Int64("template.group_id", tmpl.GroupID))

	layouts, err := s.layouts.ListLayouts(ctx, tmpl.GroupID, true)
	if err != nil {
		return ExportResult{}, fmt.Errorf("list layouts: %w", err)
	}
	layoutIDs := make([]int64, 0, len(layouts))
	for _, l := range layouts {
		layoutIDs = append(layoutIDs, l.LayoutID)
	}

	cfg, err := s.builder.BuildExportConfig(ctx, user, tmpl.GroupID, layoutIDs, exportNamePrefix+templateName)
	if err != nil {
		return ExportResult{}, err
	}
	taskID, err := s.archives.ExportInBackground(ctx, user.ID, cfg)
	if err != nil {
		return ExportResult{}, err
	}

	s.logger.Info("export dispatched",
		zap.Int64("user_id", user.ID),
		zap.String("template", templateName),
		zap.Int64("group_id", tmpl.GroupID),
		zap.Int64("task_id", taskID),
		zap.Int("layouts", len(layoutIDs)),
	)
	return ExportResult{BackgroundTaskID: taskID, LayoutCount: len(layoutIDs)}, nil
}

// ImportSiteTemplate queues an import of req.Archive into the named template.
func (s *Service) ImportSiteTemplate(ctx context.Context, req ImportRequest) (res ImportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "siteops.ImportSiteTemplate", trace.WithAttributes(
		attribute.String("template.name", req.TemplateName),
		attribute.Int("archive.bytes", len(req.Archive)),
		attribute.Bool("import.validate", req.Validate),
		attribute.Bool("import.force", req.Force),
	))
	defer func() { endSpan(span, err) }()

	user, err := s.caller(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	if strings.TrimSpace(req.TemplateName) == "" || len(req.Archive) == 0 {
		return ImportResult{}, fmt.Errorf("%w: missing templateName or LAR body", portal.ErrBadRequest)
	}

	tmpl, err := s.resolver.Resolve(ctx, user, req.TemplateName, req.CreateIfMissing)
	if err != nil {
		return ImportResult{}, err
	}
	span.SetAttributes(attribute.Int64("template.group_id", tmpl.GroupID))

	cfg, err := s.builder.BuildImportConfig(ctx, user, tmpl.GroupID, req.PrivateLayout, importNamePrefix+req.TemplateName)
	if err != nil {
		return ImportResult{}, err
	}

	var validation Validation
	if req.Validate {
		missing, err := s.archives.Validate(ctx, cfg, req.Archive)
		if err != nil {
			return ImportResult{}, err
		}
		validation = Validation{
			Performed:            true,
			HasMissingReferences: len(missing) > 0,
			MissingReferences:    missing,
		}
		if len(missing) > 0 {
			metrics.ObserveMissingReferences(len(missing))
			if !req.Force {
				s.logger.Info("import rejected by validation",
					zap.Int64("user_id", user.ID),
					zap.String("template", req.TemplateName),
					zap.Int("missing_references", len(missing)),
				)
				return ImportResult{}, &ValidationError{Missing: missing}
			}
			s.logger.Warn("importing despite missing references",
				zap.String("template", req.TemplateName),
				zap.Int("missing_references", len(missing)),
			)
		}
	}

	taskID, err := s.archives.ImportInBackground(ctx, user.ID, cfg, req.Archive)
	if err != nil {
		return ImportResult{}, err
	}

	s.logger.Info("import dispatched",
		zap.Int64("user_id", user.ID),
		zap.String("template", req.TemplateName),
		zap.Int64("group_id", tmpl.GroupID),
		zap.Int64("task_id", taskID),
	)
	return ImportResult{BackgroundTaskID: taskID, TemplateGroupID: tmpl.GroupID, Validation: validation}, nil
}

// TaskStatus reports a background task's status verbatim.
func (s *Service) TaskStatus(ctx context.Context, taskID int64) (Status, error) {
	task, err := s.ownedTask(ctx, taskID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Status:        int(task.Status),
		Completed:     task.Completed,
		StatusMessage: task.StatusMessage,
	}, nil
}

// OpenArchive opens the archive produced by a successfully completed task.
func (s *Service) OpenArchive(ctx context.Context, taskID int64) (res Archive, err error) {
	ctx, span := s.tracer.Start(ctx, "siteops.OpenArchive", trace.WithAttributes(attribute.Int64("task.id", taskID)))
	defer func() { endSpan(span, err) }()

	task, err := s.ownedTask(ctx, taskID)
	if err != nil {
		return Archive{}, err
	}
	if !task.Completed {
		return Archive{}, fmt.Errorf("%w: task not completed", portal.ErrConflict)
	}
	if task.Status != portal.TaskStatusSuccessful {
		return Archive{}, fmt.Errorf("%w: %s", portal.ErrTaskFailed, task.Status)
	}

	att, ok := SelectArchive(task.Attachments)
	if !ok {
		return Archive{}, fmt.Errorf("%w: no LAR found", portal.ErrNotFound)
	}
	body, err := s.blobs.GetObject(ctx, att.BlobPath)
	if err != nil {
		return Archive{}, fmt.Errorf("open %s: %w", att.FileName, err)
	}
	return Archive{Attachment: att, Body: body}, nil
}

// SelectArchive picks the attachment to download among those ending in ".lar":
// the largest one, then the most recently created, then the first by file name.
func SelectArchive(attachments []portal.Attachment) (portal.Attachment, bool) {
	var (
		best  portal.Attachment
		found bool
	)
	for _, a := range attachments {
		if !strings.HasSuffix(a.FileName, lar.Extension) {
			continue
		}
		if !found || better(a, best) {
			best, found = a, true
		}
	}
	return best, found
}

func better(a, b portal.Attachment) bool {
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.FileName < b.FileName
}

// caller loads the authenticated user. Unknown users are unauthorized.
func (s *Service) caller(ctx context.Context) (portal.User, error) {
	userID, ok := auth.UserFromContext(ctx)
	if !ok {
		return portal.User{}, portal.ErrUnauthorized
	}
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, portal.ErrNotFound) {
		return portal.User{}, fmt.Errorf("%w: unknown user %d", portal.ErrUnauthorized, userID)
	}
	if err != nil {
		return portal.User{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	return user, nil
}

// ownedTask loads a task on behalf of the caller. Tasks of other companies
// are reported as missing.
func (s *Service) ownedTask(ctx context.Context, taskID int64) (portal.Task, error) {
	user, err := s.caller(ctx)
	if err != nil {
		return portal.Task{}, err
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return portal.Task{}, err
	}
	if task.CompanyID != user.CompanyID {
		s.logger.Warn("task requested across companies",
			zap.Int64("user_id", user.ID),
			zap.Int64("task_id", taskID),
		)
		return portal.Task{}, fmt.Errorf("%w: background task %d", portal.ErrNotFound, taskID)
	}
	return task, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
