package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/logging"
	"github.com/JakeFAU/site-template-ci/internal/metrics"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	"github.com/JakeFAU/site-template-ci/internal/siteops"
)

const defaultMaxUploadBytes = 256 << 20

// validationFailedMessage is returned with 409 responses from the import route.
const validationFailedMessage = "Validation failed. Use force=true to proceed."

// SiteOperations is the service surface the handlers delegate to.
type SiteOperations interface {
	ExportSiteTemplate(ctx context.Context, templateName string) (siteops.ExportResult, error)
	ImportSiteTemplate(ctx context.Context, req siteops.ImportRequest) (siteops.ImportResult, error)
	TaskStatus(ctx context.Context, taskID int64) (siteops.Status, error)
	OpenArchive(ctx context.Context, taskID int64) (siteops.Archive, error)
}

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Options configures the server.
type Options struct {
	// MaxUploadBytes bounds import bodies. Zero means 256 MiB.
	MaxUploadBytes int64
	// Authenticate resolves the caller identity for every /v1 route.
	Authenticate Middleware
	// Throttle guards the routes that queue background work.
	Throttle Middleware
	// Ready backs /readyz. Nil always reports ready.
	Ready func(ctx context.Context) error
}

// Server exposes HTTP handlers for the site template API.
type Server struct {
	router chi.Router
	ops    SiteOperations
	opts   Options
	logger *zap.Logger
}

// NewServer wires a chi router with middleware and handlers.
func NewServer(ops SiteOperations, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.Authenticate == nil {
		opts.Authenticate = passthrough
	}
	if opts.Throttle == nil {
		opts.Throttle = passthrough
	}
	s := &Server{
		router: chi.NewRouter(),
		ops:    ops,
		opts:   opts,
		logger: logger,
	}
	s.router.Use(logging.RequestID)
	s.router.Use(logging.Middleware(logger))
	s.router.Use(s.recoverMiddleware)
	s.router.Use(metrics.Middleware)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(opts.Authenticate)
		r.Get("/", s.handleRoot)
		r.With(opts.Throttle).Post("/site-templates/export", s.handleExport)
		r.With(opts.Throttle).Post("/site-templates/import", s.handleImport)
		r.Get("/background-tasks/{backgroundTaskId}/lar", s.handleDownload)
		r.Get("/background-tasks/{backgroundTaskId}/status", s.handleStatus)
	})
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func passthrough(next http.Handler) http.Handler { return next }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "done")
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.ops.ExportSiteTemplate(r.Context(), r.URL.Query().Get("templateName"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := siteops.ImportRequest{TemplateName: q.Get("templateName")}
	flags := []struct {
		name string
		def  bool
		dst  *bool
	}{
		{"privateLayout", true, &req.PrivateLayout},
		{"validate", true, &req.Validate},
		{"force", false, &req.Force},
		{"createIfMissing", false, &req.CreateIfMissing},
	}
	for _, f := range flags {
		v, err := boolParam(q.Get(f.name), f.def)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", f.name, q.Get(f.name)))
			return
		}
		*f.dst = v
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("archive exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "read archive body")
		return
	}
	req.Archive = body

	res, err := s.ops.ImportSiteTemplate(r.Context(), req)
	if err != nil {
		var verr *siteops.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":             validationFailedMessage,
				"missingReferences": len(verr.Missing),
				"references":        verr.Missing,
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}

	var validation any = struct{}{}
	if res.Validation.Performed {
		validation = res.Validation
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backgroundTaskId": res.BackgroundTaskID,
		"templateGroupId":  res.TemplateGroupID,
		"validation":       validation,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	status, err := s.ops.TaskStatus(r.Context(), taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	archive, err := s.ops.OpenArchive(r.Context(), taskID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer archive.Body.Close()

	att := archive.Attachment
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.FileName))
	if att.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	}
	if att.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(att.Checksum))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, archive.Body); err != nil {
		// Headers are gone; all that is left is to record the failure.
		s.logger.Warn("stream archive failed",
			zap.Int64("task_id", taskID),
			zap.String("file_name", att.FileName),
			zap.Error(err),
		)
	}
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "backgroundTaskId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid backgroundTaskId: %q", raw))
		return 0, false
	}
	return id, true
}

func boolParam(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse bool: %w", err)
	}
	return v, nil
}

// writeServiceError maps sentinel errors to HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", logging.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, portal.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, portal.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, portal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, portal.ErrAmbiguousName), errors.Is(err, portal.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", logging.RequestIDFromContext(r.Context())),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
