// Package archive runs layout exports and imports as background tasks.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/exportimport"
	"github.com/JakeFAU/site-template-ci/internal/hash/sha256"
	"github.com/JakeFAU/site-template-ci/internal/lar"
	"github.com/JakeFAU/site-template-ci/internal/locale"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

// Submitter records and queues a background task.
type Submitter interface {
	Submit(ctx context.Context, task portal.Task) (portal.Task, error)
}

// Config controls where archives land and what the target portal offers.
type Config struct {
	// ExportPrefix prefixes the blob path of exported archives.
	ExportPrefix string
	// UploadPrefix prefixes the blob path of archives uploaded for import.
	UploadPrefix string
	// InstalledThemes are the theme ids imports may reference.
	InstalledThemes []string
	// Limits cap the decompressed size of archives being read.
	Limits lar.Limits
}

// Service exports and imports layouts through the task runner.
type Service struct {
	configs   portal.ConfigurationStore
	templates portal.TemplateStore
	layouts   portal.LayoutStore
	blobs     portal.BlobStore
	submitter Submitter
	clock     portal.Clock
	locales   *locale.Resolver
	hasher    *sha256.Hasher
	cfg       Config
	logger    *zap.Logger
}

// NewService constructs a Service.
func NewService(
	configs portal.ConfigurationStore,
	templates portal.TemplateStore,
	layouts portal.LayoutStore,
	blobs portal.BlobStore,
	submitter Submitter,
	clock portal.Clock,
	locales *locale.Resolver,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = "exports"
	}
	if cfg.UploadPrefix == "" {
		cfg.UploadPrefix = "uploads"
	}
	return &Service{
		configs:   configs,
		templates: templates,
		layouts:   layouts,
		blobs:     blobs,
		submitter: submitter,
		clock:     clock,
		locales:   locales,
		hasher:    sha256.New(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Executors returns the task executors served by this package, keyed by executor name.
func (s *Service) Executors() map[string]worker.Executor {
	return map[string]worker.Executor{
		portal.ExecutorExportLayouts: worker.ExecutorFunc(s.runExport),
		portal.ExecutorImportLayouts: worker.ExecutorFunc(s.runImport),
	}
}

// ExportInBackground queues an export of the layouts named by cfg and returns the task id.
func (s *Service) ExportInBackground(ctx context.Context, userID int64, cfg portal.Configuration) (int64, error) {
	task, err := s.submitter.Submit(ctx, portal.Task{
		CompanyID:       cfg.CompanyID,
		GroupID:         cfg.GroupID,
		UserID:          userID,
		Name:            cfg.Name,
		Executor:        portal.ExecutorExportLayouts,
		ConfigurationID: cfg.ID,
	})
	if err != nil {
		return 0, fmt.Errorf("submit export: %w", err)
	}
	return task.ID, nil
}

// ImportInBackground stores the uploaded archive and queues its import into cfg's group.
func (s *Service) ImportInBackground(
	ctx context.Context,
	userID int64,
	cfg portal.Configuration,
	data []byte,
) (int64, error) {
	inputPath := joinPath(s.cfg.UploadPrefix, cfg.UUID+lar.Extension)
	if _, err := s.blobs.PutObject(ctx, inputPath, lar.ContentType, bytes.NewReader(data)); err != nil {
		return 0, fmt.Errorf("store uploaded archive: %w", err)
	}
	task, err := s.submitter.Submit(ctx, portal.Task{
		CompanyID:       cfg.CompanyID,
		GroupID:         cfg.GroupID,
		UserID:          userID,
		Name:            cfg.Name,
		Executor:        portal.ExecutorImportLayouts,
		ConfigurationID: cfg.ID,
		InputPath:       inputPath,
	})
	if err != nil {
		return 0, fmt.Errorf("submit import: %w", err)
	}
	return task.ID, nil
}

// Validate lists the references in data that cannot be resolved in cfg's target group.
// An unreadable archive is a bad request.
func (s *Service) Validate(ctx context.Context, cfg portal.Configuration, data []byte) ([]lar.MissingReference, error) {
	a, err := lar.ReadLimited(data, s.cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", portal.ErrBadRequest, err)
	}
	existing, err := s.layouts.ListLayouts(ctx, cfg.GroupID, cfg.Settings.PrivateLayout)
	if err != nil {
		return nil, fmt.Errorf("list target layouts: %w", err)
	}
	ids := make([]int64, 0, len(existing))
	for _, l := range existing {
		ids = append(ids, l.LayoutID)
	}
	missing := lar.Validate(a, lar.Target{
		LayoutIDs:       ids,
		InstalledThemes: s.cfg.InstalledThemes,
		Handles:         handlesFor(cfg.Settings.Parameters),
	})
	s.logger.Debug("archive validated",
		zap.Int64("group_id", cfg.GroupID),
		zap.Int("layouts", len(a.Layouts)),
		zap.Int("missing_references", len(missing)),
	)
	return missing, nil
}

func handlesFor(params url.Values) func(string) bool {
	return func(className string) bool {
		h, ok := exportimport.HandlerFor(className)
		return ok && exportimport.Enabled(params, h.Key)
	}
}

func (s *Service) loadConfiguration(ctx context.Context, task portal.Task) (portal.Configuration, error) {
	cfg, err := s.configs.GetConfiguration(ctx, task.ConfigurationID)
	if err != nil {
		return portal.Configuration{}, fmt.Errorf("load configuration %d: %w", task.ConfigurationID, err)
	}
	return cfg, nil
}

func (s *Service) readUpload(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("task has no uploaded archive")
	}
	rc, err := s.blobs.GetObject(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open uploaded archive: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read uploaded archive: %w", err)
	}
	return data, nil
}

func joinPath(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return strings.Join(trimmed, "/")
}
