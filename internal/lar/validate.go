package lar

import (
	"strconv"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// Reference class names with built-in resolution rules.
const (
	ClassLayout = "layout"
	ClassTheme  = "theme"
)

// Target describes what already exists where an archive is imported.
type Target struct {
	LayoutIDs       []int64
	InstalledThemes []string
	// Handles reports whether a content class has an enabled importer.
	Handles func(className string) bool
}

// MissingReference is a reference the import cannot resolve.
type MissingReference struct {
	ClassName string `json:"className"`
	Key       string `json:"key"`
	LayoutID  int64  `json:"layoutId"`
}

// Validate lists the references in a that neither the archive itself nor the target can satisfy.
func Validate(a Archive, target Target) []MissingReference {
	layouts := make(map[string]bool, len(a.Layouts)+len(target.LayoutIDs))
	for _, l := range a.Layouts {
		layouts[strconv.FormatInt(l.LayoutID, 10)] = true
	}
	for _, id := range target.LayoutIDs {
		layouts[strconv.FormatInt(id, 10)] = true
	}
	themes := make(map[string]bool, len(target.InstalledThemes))
	for _, th := range target.InstalledThemes {
		themes[th] = true
	}

	var missing []MissingReference
	seen := make(map[portal.Reference]bool)
	report := func(ref portal.Reference, layoutID int64) {
		if seen[ref] {
			return
		}
		seen[ref] = true
		missing = append(missing, MissingReference{ClassName: ref.ClassName, Key: ref.Key, LayoutID: layoutID})
	}

	for _, l := range a.Layouts {
		refs := append([]portal.Reference(nil), l.References...)
		if l.ParentLayoutID != 0 {
			refs = append(refs, portal.Reference{ClassName: ClassLayout, Key: strconv.FormatInt(l.ParentLayoutID, 10)})
		}
		if l.ThemeID != "" {
			refs = append(refs, portal.Reference{ClassName: ClassTheme, Key: l.ThemeID})
		}
		for _, ref := range refs {
			var ok bool
			switch ref.ClassName {
			case ClassLayout:
				ok = layouts[ref.Key]
			case ClassTheme:
				ok = themes[ref.Key]
			default:
				ok = target.Handles != nil && target.Handles(ref.ClassName)
			}
			if !ok {
				report(ref, l.LayoutID)
			}
		}
	}
	return missing
}
