// Package lar reads, writes and validates LAR archives of site template layouts.
//
// A LAR is a zip container holding manifest.json and one layouts/<id>.json
// entry per layout.
package lar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// FormatVersion is written into every manifest.
const FormatVersion = "1.0"

// Extension is the file suffix of archive attachments.
const Extension = ".lar"

// ContentType is served with archive downloads.
const ContentType = "application/zip"

const (
	manifestName = "manifest.json"
	layoutDir    = "layouts/"
)

// ErrInvalidArchive reports an archive that cannot be read.
var ErrInvalidArchive = errors.New("invalid archive")

// ErrTooLarge reports an archive whose decompressed content exceeds its Limits.
var ErrTooLarge = errors.New("archive too large")

// Limits bound how much decompressed data Read will accept.
type Limits struct {
	MaxEntryBytes int64
	MaxTotalBytes int64
}

// DefaultLimits apply when a limit is zero.
var DefaultLimits = Limits{
	MaxEntryBytes: 16 << 20,
	MaxTotalBytes: 512 << 20,
}

func (l Limits) withDefaults() Limits {
	if l.MaxEntryBytes <= 0 {
		l.MaxEntryBytes = DefaultLimits.MaxEntryBytes
	}
	if l.MaxTotalBytes <= 0 {
		l.MaxTotalBytes = DefaultLimits.MaxTotalBytes
	}
	return l
}

// Manifest describes an archive.
type Manifest struct {
	FormatVersion string              `json:"format_version"`
	ExportedAt    time.Time           `json:"exported_at"`
	CompanyID     int64               `json:"company_id"`
	SourceGroupID int64               `json:"source_group_id"`
	TemplateName  string              `json:"template_name"`
	PrivateLayout bool                `json:"private_layout"`
	LayoutCount   int                 `json:"layout_count"`
	Parameters    map[string][]string `json:"parameters,omitempty"`
}

// Archive is the decoded content of a LAR.
type Archive struct {
	Manifest Manifest
	Layouts  []portal.Layout
}

// Write encodes the archive as a zip stream. Layouts are written in id order.
func Write(w io.Writer, a Archive) error {
	layouts := append([]portal.Layout(nil), a.Layouts...)
	sort.Slice(layouts, func(i, j int) bool { return layouts[i].LayoutID < layouts[j].LayoutID })

	m := a.Manifest
	m.FormatVersion = FormatVersion
	m.LayoutCount = len(layouts)

	zw := zip.NewWriter(w)
	if err := writeJSON(zw, manifestName, m); err != nil {
		return err
	}
	for _, l := range layouts {
		if err := writeJSON(zw, fmt.Sprintf("%s%d.json", layoutDir, l.LayoutID), l); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// Encode returns the archive as bytes.
func Encode(a Archive) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	enc := json.NewEncoder(fw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode entry %s: %w", name, err)
	}
	return nil
}

// Read decodes an archive held in memory under DefaultLimits.
func Read(data []byte) (Archive, error) {
	return ReadLimited(data, DefaultLimits)
}

// ReadLimited decodes an archive held in memory, refusing entries that
// decompress past limits.
func ReadLimited(data []byte, limits Limits) (Archive, error) {
	limits = limits.withDefaults()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Archive{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var (
		a           Archive
		hasManifest bool
		budget      = limits.MaxTotalBytes
	)
	for _, f := range zr.File {
		var target any
		switch {
		case f.Name == manifestName:
			target = &a.Manifest
			hasManifest = true
		case strings.HasPrefix(f.Name, layoutDir) && path.Ext(f.Name) == ".json":
			a.Layouts = append(a.Layouts, portal.Layout{})
			target = &a.Layouts[len(a.Layouts)-1]
		default:
			continue
		}
		n, err := readJSON(f, target, min(limits.MaxEntryBytes, budget))
		if err != nil {
			return Archive{}, err
		}
		budget -= n
	}
	if !hasManifest {
		return Archive{}, fmt.Errorf("%w: missing %s", ErrInvalidArchive, manifestName)
	}
	if a.Manifest.FormatVersion != FormatVersion {
		return Archive{}, fmt.Errorf("%w: unsupported format version %q", ErrInvalidArchive, a.Manifest.FormatVersion)
	}
	sort.Slice(a.Layouts, func(i, j int) bool { return a.Layouts[i].LayoutID < a.Layouts[j].LayoutID })
	return a, nil
}

// readJSON decodes one entry of at most limit decompressed bytes and returns
// how many bytes it used.
func readJSON(f *zip.File, v any, limit int64) (int64, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return 0, fmt.Errorf("%w: %w: %s declares %d bytes", ErrInvalidArchive, ErrTooLarge, f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()
	// The declared size is not trusted; read one byte past the limit to detect overflow.
	buf, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, f.Name, err)
	}
	if int64(len(buf)) > limit {
		return 0, fmt.Errorf("%w: %w: %s exceeds %d bytes", ErrInvalidArchive, ErrTooLarge, f.Name, limit)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return 0, fmt.Errorf("%w: decode %s: %v", ErrInvalidArchive, f.Name, err)
	}
	return int64(len(buf)), nil
}
