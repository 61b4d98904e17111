package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/clock/system"
	"github.com/JakeFAU/site-template-ci/internal/config"
	"github.com/JakeFAU/site-template-ci/internal/dispatcher"
	"github.com/JakeFAU/site-template-ci/internal/lar"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	queueMemory "github.com/JakeFAU/site-template-ci/internal/queue/memory"
	memoryStorage "github.com/JakeFAU/site-template-ci/internal/storage/memory"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

const (
	testUser  = "20156"
	otherUser = "20157"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, ReadHeaderTimeoutSec: 5, ShutdownTimeoutSeconds: 5},
		Auth:    config.AuthConfig{Mode: "header", Header: "X-User-Id"},
		Locale:  config.LocaleConfig{Default: "en-US"},
		Tasks:   config.TasksConfig{Concurrency: 2, QueueDepth: 8, JobTimeoutSeconds: 30},
		Archive: config.ArchiveConfig{MaxUploadBytes: 1 << 20, InstalledThemes: []string{"classic"}},
		Storage: config.StorageConfig{Records: "memory", Backend: "local", LocalDir: t.TempDir()},
		PubSub:  config.PubSubConfig{TopicName: "site-template-tasks"},
		Telemetry: config.TelemetryConfig{
			ServiceName: "site-template-ci-test",
			Version:     "test",
			SampleRatio: 1,
		},
		Seed: config.SeedConfig{
			Users: []portal.User{
				{ID: 20156, CompanyID: 1, Locale: "en-US", TimeZone: "UTC"},
				{ID: 20157, CompanyID: 2, Locale: "en-US", TimeZone: "UTC"},
			},
			Templates: []config.SeedTemplate{{
				ID: 30101, CompanyID: 1, GroupID: 40101,
				Name: map[string]string{"en-US": "Blog"},
			}},
			Layouts: []config.SeedLayout{
				{GroupID: 40101, PrivateLayout: true, LayoutID: 1, FriendlyURL: "/home", ThemeID: "classic",
					Name: map[string]string{"en-US": "Home"}},
				{GroupID: 40101, PrivateLayout: true, LayoutID: 2, ParentLayoutID: 1, FriendlyURL: "/posts",
					Name: map[string]string{"en-US": "Posts"}},
				{GroupID: 40101, PrivateLayout: false, LayoutID: 3, FriendlyURL: "/public"},
			},
		},
	}
}

func startApp(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	app.Start(ctx)
	t.Cleanup(func() {
		cancel()
		app.Close(context.Background())
	})
	return app.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, h, testUser, method, target, body)
}

// doAs sends the request as user; an empty user sends no identity.
func doAs(t *testing.T, h http.Handler, user, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func waitCompleted(t *testing.T, h http.Handler, taskID int64) map[string]any {
	t.Helper()
	var status map[string]any
	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, fmt.Sprintf("/v1/background-tasks/%d/status", taskID), nil)
		if rec.Code != http.StatusOK {
			return false
		}
		status = map[string]any{}
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status["completed"] == true
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestApp_ExportThenImportRoundTrip(t *testing.T) {
	t.Parallel()

	h := startApp(t, testConfig(t))

	rec := do(t, h, http.MethodPost, "/v1/site-templates/export?templateName=Blog", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var exported struct {
		BackgroundTaskID int64 `json:"backgroundTaskId"`
		LayoutCount      int   `json:"layoutCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	require.Equal(t, 2, exported.LayoutCount)

	status := waitCompleted(t, h, exported.BackgroundTaskID)
	require.InDelta(t, float64(portal.TaskStatusSuccessful), status["status"], 0)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/v1/background-tasks/%d/lar", exported.BackgroundTaskID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), ".lar")
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	archive, err := lar.Read(data)
	require.NoError(t, err)
	require.Len(t, archive.Layouts, 2)
	require.Equal(t, "Blog", archive.Manifest.TemplateName)

	rec = do(t, h, http.MethodPost, "/v1/site-templates/import?templateName=Blog%20Copy&createIfMissing=true", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var imported struct {
		BackgroundTaskID int64          `json:"backgroundTaskId"`
		TemplateGroupID  int64          `json:"templateGroupId"`
		Validation       map[string]any `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &imported))
	require.NotEqual(t, int64(40101), imported.TemplateGroupID)
	require.Equal(t, false, imported.Validation["hasMissingReferences"])

	status = waitCompleted(t, h, imported.BackgroundTaskID)
	require.InDelta(t, float64(portal.TaskStatusSuccessful), status["status"], 0, status["statusMessage"])
	require.Contains(t, status["statusMessage"], "imported 2 layouts")
}

func TestApp_Unauthenticated(t *testing.T) {
	t.Parallel()

	h := startApp(t, testConfig(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/site-templates/export?templateName=Blog", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApp_TaskRoutesAreScopedToCallerCompany(t *testing.T) {
	t.Parallel()

	h := startApp(t, testConfig(t))

	rec := do(t, h, http.MethodPost, "/v1/site-templates/export?templateName=Blog", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var exported struct {
		BackgroundTaskID int64 `json:"backgroundTaskId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	waitCompleted(t, h, exported.BackgroundTaskID)

	statusPath := fmt.Sprintf("/v1/background-tasks/%d/status", exported.BackgroundTaskID)
	larPath := fmt.Sprintf("/v1/background-tasks/%d/lar", exported.BackgroundTaskID)

	require.Equal(t, http.StatusUnauthorized, doAs(t, h, "", http.MethodGet, statusPath, nil).Code)
	require.Equal(t, http.StatusUnauthorized, doAs(t, h, "", http.MethodGet, larPath, nil).Code)

	rec = doAs(t, h, otherUser, http.MethodGet, statusPath, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doAs(t, h, otherUser, http.MethodGet, larPath, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, rec.Header().Get("Content-Type"), "zip")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, larPath, nil).Code)
}

func TestApp_UnknownTemplateAndTask(t *testing.T) {
	t.Parallel()

	h := startApp(t, testConfig(t))

	require.Equal(t, http.StatusNotFound,
		do(t, h, http.MethodPost, "/v1/site-templates/export?templateName=Nope", nil).Code)
	require.Equal(t, http.StatusNotFound,
		do(t, h, http.MethodGet, "/v1/background-tasks/999/status", nil).Code)
}

func TestApp_CloseWaitsForInFlightTask(t *testing.T) {
	t.Parallel()

	tasks := memoryStorage.NewTaskStore()
	queue := queueMemory.NewQueue(4)
	clock := system.New()
	started := make(chan struct{})
	exec := worker.ExecutorFunc(func(context.Context, portal.Task) (worker.Result, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return worker.Result{Message: "exported 2 layouts"}, nil
	})
	w := worker.New(queue, tasks, nil, clock,
		map[string]worker.Executor{portal.ExecutorExportLayouts: exec}, worker.Config{}, zap.NewNop())
	app := &App{
		cfg:      testConfig(t),
		logger:   zap.NewNop(),
		dispatch: dispatcher.New(queue, tasks, clock, []*worker.Worker{w}, zap.NewNop()),
		queue:    queue,
	}

	app.Start(context.Background())
	task, err := app.dispatch.Submit(context.Background(), portal.Task{CompanyID: 1, Executor: portal.ExecutorExportLayouts})
	require.NoError(t, err)
	<-started

	app.Close(context.Background())

	got, err := tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, portal.TaskStatusSuccessful, got.Status)
	require.True(t, got.Completed)
}

func TestBuild_RejectsBadBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Records = "postgres"
	cfg.DB.DSN = ""
	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "db.dsn is required")

	cfg = testConfig(t)
	cfg.Auth.Mode = "kerberos"
	_, err = BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "auth init failed")
}
