package exportimport

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// Descriptions stamped on the configuration records.
const (
	ExportDescription = "CI Export"
	ImportDescription = "CI Import"
)

// Overrides are operator-supplied parameters layered over the full publish
// defaults. Policy flags forced by the builder always win.
type Overrides struct {
	Export map[string]string
	Import map[string]string
}

// Builder creates export/import configuration records.
type Builder struct {
	store     portal.ConfigurationStore
	idGen     portal.IDGenerator
	clock     portal.Clock
	overrides Overrides
	logger    *zap.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(
	store portal.ConfigurationStore,
	idGen portal.IDGenerator,
	clock portal.Clock,
	overrides Overrides,
	logger *zap.Logger,
) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, idGen: idGen, clock: clock, overrides: overrides, logger: logger}
}

// BuildExportConfig persists an export configuration covering the given private layouts.
func (b *Builder) BuildExportConfig(
	ctx context.Context,
	user portal.User,
	groupID int64,
	layoutIDs []int64,
	name string,
) (portal.Configuration, error) {
	params := withOverrides(FullPublishParameters(), b.overrides.Export)
	for _, key := range []string{
		LayoutSetPrototypeSettings,
		LayoutSetSettings,
		ThemeReference,
		Logo,
		PortletSetupAll,
		PortletConfigurationAll,
		PortletDataAll,
		Permissions,
	} {
		params.Set(key, "true")
	}

	settings := portal.Settings{
		UserID:        user.ID,
		GroupID:       groupID,
		PrivateLayout: true,
		LayoutIDs:     slices.Clone(layoutIDs),
		Parameters:    params,
		Locale:        user.Locale,
		TimeZone:      user.TimeZone,
	}
	return b.create(ctx, user, groupID, name, ExportDescription, portal.ConfigurationTypeExportLayout, settings)
}

// BuildImportConfig persists an import configuration that overwrites the target
// group and enables every staged model handler. Deletions stay off.
func (b *Builder) BuildImportConfig(
	ctx context.Context,
	user portal.User,
	groupID int64,
	privateLayout bool,
	name string,
) (portal.Configuration, error) {
	params := withOverrides(FullPublishParameters(), b.overrides.Import)
	params.Set(DataStrategy, DataStrategyMirrorOverwrite)
	params.Set(Permissions, "true")
	params.Set(Deletions, "false")
	for _, h := range StagedModelHandlers {
		params.Set(h.Key, "true")
	}

	settings := portal.Settings{
		UserID:        user.ID,
		GroupID:       groupID,
		PrivateLayout: privateLayout,
		Parameters:    params,
		Locale:        user.Locale,
		TimeZone:      user.TimeZone,
	}
	return b.create(ctx, user, groupID, name, ImportDescription, portal.ConfigurationTypeImportLayout, settings)
}

func (b *Builder) create(
	ctx context.Context,
	user portal.User,
	groupID int64,
	name string,
	description string,
	typ portal.ConfigurationType,
	settings portal.Settings,
) (portal.Configuration, error) {
	uuid, err := b.idGen.NewID()
	if err != nil {
		return portal.Configuration{}, fmt.Errorf("generate configuration uuid: %w", err)
	}
	cfg, err := b.store.CreateConfiguration(ctx, portal.Configuration{
		UUID:        uuid,
		CompanyID:   user.CompanyID,
		GroupID:     groupID,
		UserID:      user.ID,
		Name:        name,
		Description: description,
		Type:        typ,
		Settings:    settings,
		Status:      portal.StatusApproved,
		CreatedAt:   b.clock.Now(),
	})
	if err != nil {
		return portal.Configuration{}, fmt.Errorf("create %s configuration: %w", typ, err)
	}
	b.logger.Debug("configuration created",
		zap.Int64("configuration_id", cfg.ID),
		zap.Stringer("type", typ),
		zap.Int64("group_id", groupID),
	)
	return cfg, nil
}

func withOverrides(params url.Values, overrides map[string]string) url.Values {
	// Keys arrive lowercased from viper.
	for k, v := range overrides {
		params.Set(strings.ToUpper(k), v)
	}
	return params
}
