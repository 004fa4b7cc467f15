// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/api"
	"github.com/JakeFAU/site-cloner/internal/capture"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/config"
	"github.com/JakeFAU/site-cloner/internal/coordinator"
	"github.com/JakeFAU/site-cloner/internal/dispatcher"
	"github.com/JakeFAU/site-cloner/internal/eventlog"
	collyfetcher "github.com/JakeFAU/site-cloner/internal/fetcher/colly"
	"github.com/JakeFAU/site-cloner/internal/jobs"
	"github.com/JakeFAU/site-cloner/internal/metrics"
	"github.com/JakeFAU/site-cloner/internal/policy/ratelimit"
	"github.com/JakeFAU/site-cloner/internal/progress"
	progresssinks "github.com/JakeFAU/site-cloner/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/site-cloner/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-cloner/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-cloner/internal/queue/memory"
	"github.com/JakeFAU/site-cloner/internal/render"
	"github.com/JakeFAU/site-cloner/internal/render/headless"
	"github.com/JakeFAU/site-cloner/internal/render/remote"
	gcsstorage "github.com/JakeFAU/site-cloner/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-cloner/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-cloner/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-cloner/internal/storage/postgres"
	"github.com/JakeFAU/site-cloner/internal/telemetry"
	"github.com/JakeFAU/site-cloner/internal/transform"
	"github.com/JakeFAU/site-cloner/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

// Option customizes Build.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	renderer   cloner.Renderer
	fetcher    cloner.AssetFetcher
}

// WithRegisterer registers progress metrics against reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRenderer replaces the local browser as the primary renderer.
func WithRenderer(r cloner.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithFetcher replaces the rate-limited asset fetcher.
func WithFetcher(f cloner.AssetFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry    *jobs.Registry
	events      *eventlog.Log
	queue       *queueMemory.Queue
	coordinator *coordinator.Coordinator
	dispatch    *dispatcher.Dispatcher
	apiServer   *api.Server
	progressHub *progress.Hub

	browser        *headless.Renderer
	history        *pgstore.HistoryStore
	gcs            *gcsstorage.BlobStore
	pubsub         *gcppublisher.Publisher
	tracerProvider *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(ctx)
		}
	}()

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	app.registry = jobs.NewRegistry()
	app.events = eventlog.New(eventlog.Config{
		ReplayInterval: cfg.ReplayInterval(),
		Logger:         logger.Named("eventlog"),
	})
	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)

	capturer, err := app.setupCapture(o.renderer)
	if err != nil {
		return nil, err
	}
	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = app.setupFetcher()
	}
	transformer, err := app.setupTransformer()
	if err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	progressEmitter, err := app.setupProgress(ctx, o.registerer)
	if err != nil {
		return nil, err
	}

	app.coordinator, err = coordinator.New(coordinator.Deps{
		Jobs:        app.registry,
		Events:      app.events,
		Capturer:    capturer,
		Fetcher:     fetcher,
		Transformer: transformer,
		Progress:    progressEmitter,
		Logger:      logger.Named("coordinator"),
	}, coordinator.Config{
		BatchSize:  cfg.Capture.BatchSize,
		BatchPause: cfg.BatchPause(),
		StepPause:  cfg.StepPause(),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	app.dispatch = app.setupDispatcher(blobStore, publisher, progressEmitter)

	deps := api.Deps{
		Jobs:   app.registry,
		Queue:  app.dispatch,
		Events: app.events,
		Logger: logger.Named("api"),
	}
	if app.history != nil {
		deps.History = app.history
		deps.Ready = map[string]api.ReadyCheck{"db": app.history.Ping}
	}
	app.apiServer = api.NewServer(deps, cfg)
	return app, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes jobs until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-time.After(drainTimeout):
		a.logger.Warn("running jobs did not finish before drain timeout", zap.Duration("timeout", drainTimeout))
	}

	if err := a.Close(shutdownCtx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Clone runs req synchronously through the pipeline, handing each narrative
// line to onLine. The returned job is terminal.
func (a *App) Clone(ctx context.Context, req cloner.Request, onLine func(string)) (cloner.Job, error) {
	job, err := a.registry.Create(req)
	if err != nil {
		return cloner.Job{}, fmt.Errorf("create job: %w", err)
	}
	streamed := make(chan struct{})
	lines := a.events.Subscribe(ctx, job.ID)
	go func() {
		defer close(streamed)
		for entry := range lines {
			if onLine != nil {
				onLine(entry.Line())
			}
		}
	}()

	runErr := a.coordinator.Run(ctx, job)
	<-streamed
	final, err := a.registry.Get(job.ID)
	if err != nil {
		return cloner.Job{}, fmt.Errorf("load finished job: %w", err)
	}
	if runErr != nil {
		return final, fmt.Errorf("clone %s: %w", req.URL, runErr)
	}
	return final, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.history != nil {
		a.history.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on non-file sinks such as stderr; nothing to do about it here.
	_ = a.logger.Sync()
}

func (a *App) setupCapture(primary cloner.Renderer) (*capture.Capturer, error) {
	opts := render.Options{
		SettleDelay:      a.cfg.SettleDelay(),
		ViewportWidth:    a.cfg.Render.ViewportWidth,
		ViewportHeight:   a.cfg.Render.ViewportHeight,
		UserAgent:        a.cfg.Render.UserAgent,
		MinContentLength: a.cfg.Render.MinContentLength,
	}
	if primary == nil {
		browser, err := headless.New(headless.Config{
			MaxParallel:       a.cfg.Render.MaxParallel,
			NavigationTimeout: a.cfg.RenderNavTimeout(),
			Capture:           opts,
			ExecPath:          a.cfg.Render.ExecPath,
			Logger:            a.logger.Named("headless"),
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.browser = browser
		primary = browser
		a.logger.Info("using local headless renderer", zap.Int("max_parallel", a.cfg.Render.MaxParallel))
	}

	var fallback cloner.Renderer
	sessions, err := remote.NewHTTPSessions(remote.HTTPConfig{
		BaseURL: a.cfg.Remote.BaseURL,
		APIKey:  a.cfg.Remote.APIKey,
	}, nil)
	switch {
	case errors.Is(err, remote.ErrNoCredential):
		a.logger.Warn("remote rendering api key not configured, fallback disabled")
	case err != nil:
		return nil, fmt.Errorf("remote sessions init failed: %w", err)
	default:
		renderer, rerr := remote.New(sessions, nil, remote.Config{
			NavigationTimeout: a.cfg.RemoteNavTimeout(),
			Capture:           opts,
			Logger:            a.logger.Named("remote"),
		})
		if rerr != nil {
			return nil, fmt.Errorf("remote renderer init failed: %w", rerr)
		}
		fallback = renderer
		a.logger.Info("remote rendering fallback enabled")
	}

	c, err := capture.New(primary, fallback, a.logger.Named("capture"))
	if err != nil {
		return nil, fmt.Errorf("capture init failed: %w", err)
	}
	return c, nil
}

func (a *App) setupFetcher() cloner.AssetFetcher {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:      a.cfg.Assets.PerHostRPS,
		Burst:    a.cfg.Assets.PerHostBurst,
		Observer: metrics.ObserveRateLimitDelay,
	})
	a.logger.Info("asset fetcher configured",
		zap.Float64("per_host_rps", a.cfg.Assets.PerHostRPS),
		zap.Int("per_host_burst", a.cfg.Assets.PerHostBurst),
		zap.Duration("timeout", a.cfg.AssetTimeout()),
	)
	return metrics.InstrumentFetcher(collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Assets.UserAgent,
		Timeout:      a.cfg.AssetTimeout(),
		MaxBodyBytes: a.cfg.Assets.MaxBodyBytes,
	}, limiter))
}

func (a *App) setupTransformer() (cloner.Transformer, error) {
	models := transform.NewRegistry(a.cfg.Transform.Models)
	switch a.cfg.Transform.Provider {
	case config.TransformOpenAI:
		t, err := transform.NewOpenAI(transform.OpenAIConfig{
			BaseURL: a.cfg.Transform.BaseURL,
			APIKey:  a.cfg.Transform.APIKey,
			Timeout: a.cfg.TransformTimeout(),
			Logger:  a.logger.Named("transform"),
		}, models, nil)
		if err != nil {
			return nil, fmt.Errorf("transform init failed: %w", err)
		}
		a.logger.Info("using openai-compatible transform provider", zap.String("base_url", a.cfg.Transform.BaseURL))
		return t, nil
	default:
		a.logger.Info("using passthrough transform provider")
		return transform.NewPassthrough(models), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, skipping history store initialization")
		return nil
	}
	history, err := pgstore.NewHistoryStore(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	a.history = history
	if err := history.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("history schema init failed: %w", err)
	}
	a.logger.Info("history store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
	}
	if a.history != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.history, a.logger.Named("progress_store")))
		a.logger.Debug("Added progress store sink")
	}
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return a.progressHub, nil
}

func (a *App) setupStorage(ctx context.Context) (cloner.BlobStore, error) {
	switch a.cfg.Artifacts.Provider {
	case config.ArtifactsGCS:
		a.logger.Info("using GCS artifact store", zap.String("bucket", a.cfg.Artifacts.GCSBucket))
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Artifacts.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		return store, nil
	case config.ArtifactsLocal:
		a.logger.Info("using local artifact store", zap.String("path", a.cfg.Artifacts.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Artifacts.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.ArtifactsNone:
		a.logger.Info("artifact export disabled")
		return nil, nil
	default:
		a.logger.Info("using in-memory artifact store")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (cloner.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	p, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub = p
	a.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return p, nil
}

func (a *App) setupDispatcher(
	blobStore cloner.BlobStore,
	publisher cloner.Publisher,
	progressEmitter progress.Emitter,
) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		ArtifactPrefix: a.cfg.Artifacts.Prefix,
		Topic:          a.cfg.PubSub.TopicName,
		JobTimeout:     a.cfg.JobTimeout(),
	}
	a.logger.Info("worker config",
		zap.String("artifact_prefix", workerCfg.ArtifactPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
	)
	var workers []*worker.Worker
	for i := range a.cfg.Jobs.Workers {
		workers = append(workers, worker.New(worker.Deps{
			Queue:     a.queue,
			Jobs:      a.registry,
			Runner:    a.coordinator,
			BlobStore: blobStore,
			Publisher: publisher,
			Progress:  progressEmitter,
			Logger:    a.logger.Named("worker").With(zap.Int("index", i)),
		}, workerCfg))
	}
	return dispatcher.New(a.queue, workers)
}
