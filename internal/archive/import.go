package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/exportimport"
	"github.com/JakeFAU/site-template-ci/internal/lar"
	"github.com/JakeFAU/site-template-ci/internal/metrics"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

type importStats struct {
	created, updated, skipped, deleted int
}

func (s *Service) runImport(ctx context.Context, task portal.Task) (worker.Result, error) {
	cfg, err := s.loadConfiguration(ctx, task)
	if err != nil {
		return worker.Result{}, err
	}
	data, err := s.readUpload(ctx, task.InputPath)
	if err != nil {
		return worker.Result{}, err
	}
	metrics.ObserveArchiveBytes("import", int64(len(data)))

	a, err := lar.ReadLimited(data, s.cfg.Limits)
	if err != nil {
		return worker.Result{}, fmt.Errorf("read archive: %w", err)
	}

	stats, err := s.apply(ctx, cfg.Settings, a)
	if err != nil {
		return worker.Result{}, err
	}
	s.logger.Info("layouts imported",
		zap.Int64("task_id", task.ID),
		zap.Int64("group_id", cfg.Settings.GroupID),
		zap.Int("created", stats.created),
		zap.Int("updated", stats.updated),
		zap.Int("skipped", stats.skipped),
		zap.Int("deleted", stats.deleted),
	)
	return worker.Result{
		Message: fmt.Sprintf("imported %d layouts (%d created, %d updated, %d skipped, %d deleted)",
			stats.created+stats.updated, stats.created, stats.updated, stats.skipped, stats.deleted),
	}, nil
}

// apply writes the archive's layouts into the target group.
//
// Under DATA_STRATEGY_MIRROR_OVERWRITE existing layouts with the same id are
// replaced; under plain mirroring they are left alone. Permissions travel only
// when PERMISSIONS is on, and target layouts missing from the archive are
// removed only when DELETIONS is on.
func (s *Service) apply(ctx context.Context, settings portal.Settings, a lar.Archive) (importStats, error) {
	params := settings.Parameters
	overwrite := params.Get(exportimport.DataStrategy) == exportimport.DataStrategyMirrorOverwrite
	withPermissions := exportimport.Enabled(params, exportimport.Permissions)
	withTheme := exportimport.Enabled(params, exportimport.ThemeReference)

	existing, err := s.layouts.ListLayouts(ctx, settings.GroupID, settings.PrivateLayout)
	if err != nil {
		return importStats{}, fmt.Errorf("list target layouts: %w", err)
	}
	current := make(map[int64]portal.Layout, len(existing))
	for _, l := range existing {
		current[l.LayoutID] = l
	}

	var stats importStats
	incoming := make(map[int64]bool, len(a.Layouts))
	for _, l := range a.Layouts {
		incoming[l.LayoutID] = true
		prev, exists := current[l.LayoutID]
		if exists && !overwrite {
			stats.skipped++
			continue
		}

		l.GroupID = settings.GroupID
		l.PrivateLayout = settings.PrivateLayout
		if !withPermissions {
			l.Permissions = prev.Permissions
		}
		if !withTheme {
			l.ThemeID = prev.ThemeID
		}
		if err := s.layouts.UpsertLayout(ctx, l); err != nil {
			return stats, fmt.Errorf("upsert layout %d: %w", l.LayoutID, err)
		}
		if exists {
			stats.updated++
		} else {
			stats.created++
		}
	}

	if exportimport.Enabled(params, exportimport.Deletions) {
		for _, l := range existing {
			if incoming[l.LayoutID] {
				continue
			}
			if err := s.layouts.DeleteLayout(ctx, settings.GroupID, settings.PrivateLayout, l.LayoutID); err != nil {
				return stats, fmt.Errorf("delete layout %d: %w", l.LayoutID, err)
			}
			stats.deleted++
		}
	}
	return stats, nil
}
