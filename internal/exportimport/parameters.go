// Package exportimport builds the export and import configuration records consumed by the archive engine.
package exportimport

import "net/url"

// Parameter keys understood by the archive engine.
const (
	DataStrategy               = "DATA_STRATEGY"
	DeleteMissingLayouts       = "DELETE_MISSING_LAYOUTS"
	DeletePortletData          = "DELETE_PORTLET_DATA"
	Deletions                  = "DELETIONS"
	IgnoreLastPublishDate      = "IGNORE_LAST_PUBLISH_DATE"
	LayoutSetPrototypeLink     = "LAYOUT_SET_PROTOTYPE_LINK_ENABLED"
	LayoutSetPrototypeSettings = "LAYOUT_SET_PROTOTYPE_SETTINGS"
	LayoutSetSettings          = "LAYOUT_SET_SETTINGS"
	Logo                       = "LOGO"
	Permissions                = "PERMISSIONS"
	PortletConfiguration       = "PORTLET_CONFIGURATION"
	PortletConfigurationAll    = "PORTLET_CONFIGURATION_ALL"
	PortletData                = "PORTLET_DATA"
	PortletDataAll             = "PORTLET_DATA_ALL"
	PortletSetupAll            = "PORTLET_SETUP_ALL"
	PortletUserPreferencesAll  = "PORTLET_USER_PREFERENCES_ALL"
	ThemeReference             = "THEME_REFERENCE"
	UserIDStrategy             = "USER_ID_STRATEGY"
)

// Values for DATA_STRATEGY and USER_ID_STRATEGY.
const (
	DataStrategyMirror          = "DATA_STRATEGY_MIRROR"
	DataStrategyMirrorOverwrite = "DATA_STRATEGY_MIRROR_OVERWRITE"
	UserIDStrategyCurrentUser   = "CURRENT_USER_ID"
)

// FullPublishParameters returns a fresh copy of the full publish defaults.
func FullPublishParameters() url.Values {
	return url.Values{
		DataStrategy:               {DataStrategyMirror},
		DeleteMissingLayouts:       {"true"},
		DeletePortletData:          {"false"},
		Deletions:                  {"true"},
		IgnoreLastPublishDate:      {"true"},
		LayoutSetPrototypeLink:     {"true"},
		LayoutSetPrototypeSettings: {"true"},
		LayoutSetSettings:          {"true"},
		Logo:                       {"true"},
		Permissions:                {"false"},
		PortletConfiguration:       {"true"},
		PortletConfigurationAll:    {"true"},
		PortletData:                {"true"},
		PortletDataAll:             {"true"},
		PortletSetupAll:            {"true"},
		PortletUserPreferencesAll:  {"true"},
		ThemeReference:             {"true"},
		UserIDStrategy:             {UserIDStrategyCurrentUser},
	}
}

// StagedModelHandler describes an importer for one content type.
type StagedModelHandler struct {
	// ClassName is the content type handled, as it appears in archive references.
	ClassName string
	// Key is the parameter that enables the handler during import.
	Key string
}

// StagedModelHandlers is the static list of content handlers the archive engine ships with.
var StagedModelHandlers = []StagedModelHandler{
	{ClassName: "layout", Key: "LayoutStagedModelDataHandler"},
	{ClassName: "layout-friendly-url", Key: "LayoutFriendlyURLStagedModelDataHandler"},
	{ClassName: "layout-set", Key: "LayoutSetStagedModelDataHandler"},
	{ClassName: "layout-set-prototype", Key: "LayoutSetPrototypeStagedModelDataHandler"},
	{ClassName: "portlet", Key: "PortletStagedModelDataHandler"},
	{ClassName: "journal-article", Key: "JournalArticleStagedModelDataHandler"},
	{ClassName: "journal-folder", Key: "JournalFolderStagedModelDataHandler"},
	{ClassName: "ddm-structure", Key: "DDMStructureStagedModelDataHandler"},
	{ClassName: "ddm-template", Key: "DDMTemplateStagedModelDataHandler"},
	{ClassName: "dl-file-entry", Key: "DLFileEntryStagedModelDataHandler"},
	{ClassName: "dl-folder", Key: "DLFolderStagedModelDataHandler"},
	{ClassName: "asset-category", Key: "AssetCategoryStagedModelDataHandler"},
	{ClassName: "asset-vocabulary", Key: "AssetVocabularyStagedModelDataHandler"},
	{ClassName: "fragment-entry", Key: "FragmentEntryStagedModelDataHandler"},
	{ClassName: "style-book-entry", Key: "StyleBookEntryStagedModelDataHandler"},
}

// HandlerFor returns the handler for a content type.
func HandlerFor(className string) (StagedModelHandler, bool) {
	for _, h := range StagedModelHandlers {
		if h.ClassName == className {
			return h, true
		}
	}
	return StagedModelHandler{}, false
}

// Enabled reports whether a boolean parameter is set to true.
func Enabled(params url.Values, key string) bool {
	return params.Get(key) == "true"
}
