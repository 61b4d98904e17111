// Package resolver finds site templates by their human-readable name.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/locale"
	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// CreatedDescription is stored on templates created on demand.
const CreatedDescription = "Created by CI/CD"

// AmbiguousNameError reports a name shared by more than one template.
type AmbiguousNameError struct {
	Name string
	IDs  []int64
}

func (e *AmbiguousNameError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("ambiguous template name '%s'. Matches IDs: %s", e.Name, strings.Join(ids, ","))
}

// Unwrap lets callers match portal.ErrAmbiguousName.
func (e *AmbiguousNameError) Unwrap() error {
	return portal.ErrAmbiguousName
}

// Resolver looks templates up within the caller's company.
type Resolver struct {
	templates portal.TemplateStore
	locales   *locale.Resolver
	logger    *zap.Logger
}

// New constructs a Resolver.
func New(templates portal.TemplateStore, locales *locale.Resolver, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{templates: templates, locales: locales, logger: logger}
}

// Resolve returns the single template whose name in the user's locale or the
// default locale matches name. When nothing matches and createIfMissing is
// set, a new template is created.
func (r *Resolver) Resolve(ctx context.Context, user portal.User, name string, createIfMissing bool) (portal.Template, error) {
	if strings.TrimSpace(name) == "" {
		return portal.Template{}, fmt.Errorf("template name is required: %w", portal.ErrBadRequest)
	}
	userTag := r.locales.Parse(user.Locale)
	defTag := r.locales.Default()

	all, err := r.templates.ListTemplates(ctx, user.CompanyID)
	if err != nil {
		return portal.Template{}, fmt.Errorf("list templates: %w", err)
	}

	var matches []portal.Template
	for _, tmpl := range all {
		if locale.EqualFold(r.locales.Get(tmpl.Name, userTag), name) ||
			locale.EqualFold(r.locales.Get(tmpl.Name, defTag), name) {
			matches = append(matches, tmpl)
		}
	}

	switch {
	case len(matches) > 1:
		ids := make([]int64, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		r.logger.Warn("ambiguous template name",
			zap.String("name", name),
			zap.Int64("company_id", user.CompanyID),
			zap.Int64s("ids", ids),
		)
		return portal.Template{}, &AmbiguousNameError{Name: name, IDs: ids}
	case len(matches) == 1:
		return matches[0], nil
	case !createIfMissing:
		return portal.Template{}, fmt.Errorf("no site template found with name '%s': %w", name, portal.ErrNotFound)
	}

	tmpl, err := r.templates.CreateTemplate(ctx, portal.NewTemplate{
		CompanyID: user.CompanyID,
		UserID:    user.ID,
		Name: map[string]string{
			locale.Key(defTag):  name,
			locale.Key(userTag): name,
		},
		Description:       map[string]string{locale.Key(defTag): CreatedDescription},
		Active:            true,
		LayoutsUpdateable: true,
	})
	if err != nil {
		return portal.Template{}, fmt.Errorf("create template: %w", err)
	}
	r.logger.Info("site template created",
		zap.String("name", name),
		zap.Int64("template_id", tmpl.ID),
		zap.Int64("group_id", tmpl.GroupID),
	)
	return tmpl, nil
}

// IsAmbiguous reports whether err is an ambiguous-name failure and returns its ids.
func IsAmbiguous(err error) ([]int64, bool) {
	var amb *AmbiguousNameError
	if errors.As(err, &amb) {
		return amb.IDs, true
	}
	return nil, false
}
