// Package locale provides locale-aware lookups for localized names.
package locale

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Resolver knows the platform default locale.
type Resolver struct {
	def language.Tag
}

// NewResolver builds a Resolver from a BCP 47 tag. An unparsable tag falls back to en-US.
func NewResolver(defaultTag string) *Resolver {
	tag, err := language.Parse(strings.TrimSpace(defaultTag))
	if err != nil || tag == language.Und {
		tag = language.AmericanEnglish
	}
	return &Resolver{def: tag}
}

// Default returns the platform default locale.
func (r *Resolver) Default() language.Tag {
	return r.def
}

// Parse returns the tag for s, or the default when s is empty or invalid.
func (r *Resolver) Parse(s string) language.Tag {
	s = strings.TrimSpace(s)
	if s == "" {
		return r.def
	}
	tag, err := language.Parse(s)
	if err != nil {
		return r.def
	}
	return tag
}

// Key returns the canonical map key for a tag.
func Key(tag language.Tag) string {
	return tag.String()
}

// Get returns the value of a localized map for tag, falling back to the default locale value.
func (r *Resolver) Get(values map[string]string, tag language.Tag) string {
	if len(values) == 0 {
		return ""
	}
	if v, ok := lookup(values, tag); ok {
		return v
	}
	v, _ := lookup(values, r.def)
	return v
}

func lookup(values map[string]string, tag language.Tag) (string, bool) {
	if v, ok := values[Key(tag)]; ok && v != "" {
		return v, true
	}
	// Keys written by hand may not be canonical (en_US, en-us).
	for k, v := range values {
		if v == "" {
			continue
		}
		parsed, err := language.Parse(strings.ReplaceAll(k, "_", "-"))
		if err == nil && parsed == tag {
			return v, true
		}
	}
	return "", false
}

// EqualFold reports whether a and b are equal after trimming whitespace and
// case folding. Blank values never match.
func EqualFold(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	// Casers carry state and must not be shared between goroutines.
	folder := cases.Fold()
	return folder.String(a) == folder.String(b)
}
