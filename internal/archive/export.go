package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/exportimport"
	"github.com/JakeFAU/site-template-ci/internal/lar"
	"github.com/JakeFAU/site-template-ci/internal/metrics"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

const timestampLayout = "20060102150405"

func (s *Service) runExport(ctx context.Context, task portal.Task) (worker.Result, error) {
	cfg, err := s.loadConfiguration(ctx, task)
	if err != nil {
		return worker.Result{}, err
	}
	settings := cfg.Settings

	layouts, err := s.layouts.GetLayouts(ctx, settings.GroupID, settings.PrivateLayout, settings.LayoutIDs)
	if err != nil {
		return worker.Result{}, fmt.Errorf("load layouts: %w", err)
	}
	if !exportimport.Enabled(settings.Parameters, exportimport.Permissions) {
		for i := range layouts {
			layouts[i].Permissions = nil
		}
	}
	if !exportimport.Enabled(settings.Parameters, exportimport.ThemeReference) {
		for i := range layouts {
			layouts[i].ThemeID = ""
		}
	}

	templateName := s.templateName(ctx, settings)
	now := s.clock.Now()
	data, err := lar.Encode(lar.Archive{
		Manifest: lar.Manifest{
			ExportedAt:    now,
			CompanyID:     cfg.CompanyID,
			SourceGroupID: settings.GroupID,
			TemplateName:  templateName,
			PrivateLayout: settings.PrivateLayout,
			Parameters:    settings.Parameters,
		},
		Layouts: layouts,
	})
	if err != nil {
		return worker.Result{}, fmt.Errorf("encode archive: %w", err)
	}

	fileName := fmt.Sprintf("%s-%s%s", sanitizeFileName(templateName), now.Format(timestampLayout), lar.Extension)
	blobPath := joinPath(s.cfg.ExportPrefix, fmt.Sprint(task.ID), fileName)

	hr := s.hasher.NewReader(bytes.NewReader(data))
	uri, err := s.blobs.PutObject(ctx, blobPath, lar.ContentType, hr)
	if err != nil {
		return worker.Result{}, fmt.Errorf("store archive: %w", err)
	}
	metrics.ObserveArchiveBytes("export", hr.Size())

	s.logger.Info("layouts exported",
		zap.Int64("task_id", task.ID),
		zap.Int64("group_id", settings.GroupID),
		zap.Int("layouts", len(layouts)),
		zap.String("blob_uri", uri),
	)
	return worker.Result{
		Attachments: []portal.Attachment{{
			FileName:    fileName,
			Size:        hr.Size(),
			ContentType: lar.ContentType,
			BlobPath:    blobPath,
			BlobURI:     uri,
			Checksum:    hr.Sum(),
			CreatedAt:   now,
		}},
		Message: fmt.Sprintf("exported %d layouts", len(layouts)),
	}, nil
}

// templateName names the exported template in the exporting user's locale.
// Archives of groups with no template record fall back to the group id.
func (s *Service) templateName(ctx context.Context, settings portal.Settings) string {
	tmpl, err := s.templates.GetTemplateByGroup(ctx, settings.GroupID)
	if err == nil {
		if name := s.locales.Get(tmpl.Name, s.locales.Parse(settings.Locale)); name != "" {
			return name
		}
	}
	return fmt.Sprintf("group-%d", settings.GroupID)
}

func sanitizeFileName(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '_' || r == '.':
			return r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(name))
	out = strings.Trim(out, "-.")
	if out == "" {
		return "site-template"
	}
	return out
}
