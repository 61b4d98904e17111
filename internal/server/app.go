// Package server builds the service's dependencies and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-template-ci/internal/api"
	"github.com/JakeFAU/site-template-ci/internal/archive"
	"github.com/JakeFAU/site-template-ci/internal/auth"
	"github.com/JakeFAU/site-template-ci/internal/clock/system"
	"github.com/JakeFAU/site-template-ci/internal/config"
	"github.com/JakeFAU/site-template-ci/internal/dispatcher"
	"github.com/JakeFAU/site-template-ci/internal/exportimport"
	"github.com/JakeFAU/site-template-ci/internal/id/uuid"
	"github.com/JakeFAU/site-template-ci/internal/lar"
	"github.com/JakeFAU/site-template-ci/internal/locale"
	"github.com/JakeFAU/site-template-ci/internal/logging"
	"github.com/JakeFAU/site-template-ci/internal/metrics"
	"github.com/JakeFAU/site-template-ci/internal/portal"
	memorypublisher "github.com/JakeFAU/site-template-ci/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-template-ci/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-template-ci/internal/queue/memory"
	"github.com/JakeFAU/site-template-ci/internal/ratelimit"
	"github.com/JakeFAU/site-template-ci/internal/resolver"
	"github.com/JakeFAU/site-template-ci/internal/siteops"
	gcsstorage "github.com/JakeFAU/site-template-ci/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-template-ci/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-template-ci/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-template-ci/internal/storage/postgres"
	"github.com/JakeFAU/site-template-ci/internal/telemetry"
	"github.com/JakeFAU/site-template-ci/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	queue          *queueMemory.Queue
	pool           *pgxpool.Pool
	storage        *storage.Client
	pubsubCleanup  func() error
	tracerShutdown func(context.Context) error

	stopWorkers context.CancelFunc
	workersDone chan struct{}
}

// records groups the stores behind the service.
type records struct {
	users     portal.UserDirectory
	templates portal.TemplateStore
	layouts   portal.LayoutStore
	configs   portal.ConfigurationStore
	tasks     portal.TaskStore
}

// Build creates the application's dependencies with a logger derived from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, zap.String("service", cfg.Telemetry.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies using logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("records", cfg.Storage.Records),
		zap.String("blob_backend", cfg.Storage.Backend),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.Version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	recs, err := setupRecords(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	locales := locale.NewResolver(cfg.Locale.Default)

	// Workers hold the executor map by reference; the archive service fills it
	// once it exists, before any worker runs.
	executors := make(map[string]worker.Executor)
	app.queue = queueMemory.NewQueue(cfg.Tasks.QueueDepth)
	app.dispatch = setupDispatcher(app, recs.tasks, publisher, clock, executors)

	archives := archive.NewService(
		recs.configs,
		recs.templates,
		recs.layouts,
		blobs,
		app.dispatch,
		clock,
		locales,
		archive.Config{
			ExportPrefix:    cfg.Archive.ExportPrefix,
			UploadPrefix:    cfg.Archive.UploadPrefix,
			InstalledThemes: cfg.Archive.InstalledThemes,
			Limits: lar.Limits{
				MaxEntryBytes: cfg.Archive.MaxEntryBytes,
				MaxTotalBytes: cfg.Archive.MaxExpandedBytes,
			},
		},
		logger.Named("archive"),
	)
	maps.Copy(executors, archives.Executors())

	builder := exportimport.NewBuilder(
		recs.configs,
		uuid.New(),
		clock,
		exportimport.Overrides{Export: cfg.Export, Import: cfg.Import},
		logger.Named("exportimport"),
	)
	ops := siteops.New(
		recs.users,
		resolver.New(recs.templates, locales, logger.Named("resolver")),
		builder,
		archives,
		recs.layouts,
		recs.tasks,
		blobs,
		logger.Named("siteops"),
	)

	authenticator, err := auth.New(auth.Config{
		Mode:   cfg.Auth.Mode,
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		Header: cfg.Auth.Header,
	}, logger.Named("auth"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("auth init failed: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:     cfg.RateLimit.RPS,
		Burst:   cfg.RateLimit.Burst,
		MaxWait: cfg.RateLimitMaxWait(),
	})

	app.apiServer = api.NewServer(ops, api.Options{
		MaxUploadBytes: cfg.Archive.MaxUploadBytes,
		Authenticate:   authenticator.Middleware,
		Throttle:       limiter.Middleware,
		Ready:          app.ready,
	}, logger.Named("api"))

	return app, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Start launches the dispatcher and its workers. They stop with ctx or Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.stopWorkers = context.WithCancel(ctx)
	a.workersDone = make(chan struct{})
	go func() {
		defer close(a.workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Tasks.Concurrency))
		a.dispatch.Run(ctx)
	}()
}

// waitWorkers stops the workers and waits for in-flight tasks to record
// their final status, or for ctx to expire.
func (a *App) waitWorkers(ctx context.Context) {
	if a.stopWorkers == nil {
		return
	}
	a.stopWorkers()
	select {
	case <-a.workersDone:
		a.logger.Info("workers stopped")
	case <-ctx.Done():
		a.logger.Warn("workers still running at shutdown deadline", zap.Error(ctx.Err()))
	}
	a.stopWorkers = nil
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops the workers, then releases infrastructure clients and flushes
// telemetry.
func (a *App) Close(ctx context.Context) {
	a.waitWorkers(ctx)
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.pubsubCleanup != nil {
		if err := a.pubsubCleanup(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.pubsubCleanup = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// setupRecords seeds the platform directory and picks where configuration
// and task records are kept.
func setupRecords(ctx context.Context, app *App) (records, error) {
	seed := app.cfg.Seed
	templates := make([]portal.Template, 0, len(seed.Templates))
	for _, t := range seed.Templates {
		templates = append(templates, t.Template())
	}
	layouts := make([]portal.Layout, 0, len(seed.Layouts))
	for _, l := range seed.Layouts {
		layouts = append(layouts, l.Layout())
	}
	recs := records{
		users:     memoryStorage.NewDirectory(seed.Users...),
		templates: memoryStorage.NewTemplateStore(templates...),
		layouts:   memoryStorage.NewLayoutStore(layouts...),
	}
	app.logger.Debug("seeded platform directory",
		zap.Int("users", len(seed.Users)),
		zap.Int("templates", len(templates)),
		zap.Int("layouts", len(layouts)),
	)

	if app.cfg.Storage.Records != "postgres" {
		app.logger.Info("using in-memory configuration and task records")
		recs.configs = memoryStorage.NewConfigurationStore()
		recs.tasks = memoryStorage.NewTaskStore()
		return recs, nil
	}

	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.DB.ConnLifetimeSec) * time.Second,
	})
	if err != nil {
		return records{}, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	if err := pgstore.Migrate(ctx, pool); err != nil {
		return records{}, fmt.Errorf("postgres migrate failed: %w", err)
	}
	if recs.configs, err = pgstore.NewConfigurationStore(pool, ""); err != nil {
		return records{}, fmt.Errorf("configuration store init failed: %w", err)
	}
	if recs.tasks, err = pgstore.NewTaskStore(pool, ""); err != nil {
		return records{}, fmt.Errorf("task store init failed: %w", err)
	}
	app.logger.Info("using postgres configuration and task records")
	return recs, nil
}

func setupStorage(ctx context.Context, app *App) (portal.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		store, client, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.storage = client
		return store, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (portal.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, cleanup, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	app.pubsubCleanup = cleanup
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupDispatcher(
	app *App,
	tasks portal.TaskStore,
	publisher portal.Publisher,
	clock portal.Clock,
	executors map[string]worker.Executor,
) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		Topic:       app.cfg.PubSub.TopicName,
		TaskTimeout: app.cfg.JobTimeout(),
	}
	app.logger.Info("worker config",
		zap.Int("concurrency", app.cfg.Tasks.Concurrency),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("task_timeout", workerCfg.TaskTimeout),
	)
	workers := make([]*worker.Worker, 0, app.cfg.Tasks.Concurrency)
	for i := range app.cfg.Tasks.Concurrency {
		workers = append(workers, worker.New(
			app.queue,
			tasks,
			publisher,
			clock,
			executors,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, tasks, clock, workers, app.logger.Named("dispatcher"))
}
