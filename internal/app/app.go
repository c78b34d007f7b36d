// Package app wires configuration into a running crawler: storage, renderers,
// progress sinks, the job dispatcher and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/api"
	"github.com/JakeFAU/racing-crawler/internal/clock/system"
	"github.com/JakeFAU/racing-crawler/internal/config"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/dispatcher"
	"github.com/JakeFAU/racing-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/racing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/racing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/racing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/racing-crawler/internal/headless/detector"
	uuidgen "github.com/JakeFAU/racing-crawler/internal/id/uuid"
	"github.com/JakeFAU/racing-crawler/internal/logging"
	"github.com/JakeFAU/racing-crawler/internal/metrics"
	"github.com/JakeFAU/racing-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/racing-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/racing-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/racing-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/racing-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/racing-crawler/internal/queue/memory"
	"github.com/JakeFAU/racing-crawler/internal/sites"
	istorage "github.com/JakeFAU/racing-crawler/internal/storage"
	gcssink "github.com/JakeFAU/racing-crawler/internal/storage/gcs"
	localsink "github.com/JakeFAU/racing-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/racing-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/racing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/racing-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/racing-crawler/internal/store"
	"github.com/JakeFAU/racing-crawler/internal/telemetry"
)

const (
	queueDepth     = 64
	jobWorkers     = 2
	readHeaderWait = 5 * time.Second
)

// App holds every long-lived dependency of the crawler.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    crawler.Clock
	ids      crawler.IDGenerator
	hasher   *sha256.Hasher
	registry *prometheus.Registry

	renderer crawler.Renderer
	browser  *headless.Renderer
	sink     crawler.Sink
	runs     store.RunRepository
	hub      *progress.Hub

	pool          *pgxpool.Pool
	sqliteSink    *sqlite.RecordSink
	storageClient *gcstorage.Client
	pubsubClient  *pubsub.Client
	publisher     *gcppublisher.Publisher

	queue          *queuememory.Queue
	dispatch       *dispatcher.Dispatcher
	tracerShutdown telemetry.Shutdown
}

// Option customizes Build.
type Option func(*App)

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithRenderer replaces the static/headless gateway. No browser is started.
func WithRenderer(r crawler.Renderer) Option {
	return func(a *App) { a.renderer = r }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// Build validates cfg and creates the application's dependencies. Anything
// opened before a failure is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuidgen.New(),
		hasher: sha256.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	defer func() {
		if err != nil {
			a.closeInfrastructure(context.Background())
		}
	}()

	steps := []func(context.Context) error{
		a.setupTelemetry,
		a.setupRenderer,
		a.setupDatabase,
		a.setupRunStore,
		a.setupSink,
		a.setupProgress,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return nil, err
		}
	}
	a.queue = queuememory.NewQueue(queueDepth)
	a.dispatch = dispatcher.New(a.queue, a, jobWorkers, logger.Named("dispatcher"))
	logger.Info("application built",
		zap.String("sink", cfg.Sink.Provider),
		zap.Bool("render", cfg.Render.Enabled),
		zap.Bool("postgres", a.pool != nil))
	return a, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	t := a.cfg.Tracing
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      t.Enabled,
		ServiceName:  t.ServiceName,
		HTTPEndpoint: t.HTTPEndpoint,
		GRPCEndpoint: t.GRPCEndpoint,
		Headers:      t.Headers,
		SampleRatio:  t.SampleRatio,
		Logger:       a.logger.Named("telemetry"),
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = shutdown
	return nil
}

func (a *App) setupRenderer(context.Context) error {
	if a.renderer != nil {
		return nil
	}
	static := collyfetcher.New(collyfetcher.Config{
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       time.Duration(a.cfg.HTTP.TimeoutSeconds) * time.Second,
		Logger:        a.logger.Named("colly"),
	})
	var browser crawler.Renderer = headless.NewNoop()
	if a.cfg.Render.Enabled {
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Render.MaxParallel,
			NavigationTimeout: time.Duration(a.cfg.Render.TimeoutSeconds) * time.Second,
			SelectorTimeout:   time.Duration(a.cfg.Render.SelectorTimeoutSeconds) * time.Second,
			Logger:            a.logger.Named("chromedp"),
		})
		if err != nil {
			return fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.browser = r
		browser = r
	}
	selector := fetcher.RoundRobinSelector()
	if a.cfg.Crawler.UASelector == config.UASelectorRandom {
		selector = fetcher.RandomSelector(a.cfg.Crawler.UASeed)
	}
	limiter := ratelimit.New(ratelimit.Config{
		QPS:    a.cfg.Render.DomainQPS,
		Burst:  a.cfg.Render.DomainBurst,
		Logger: a.logger.Named("ratelimit"),
	})
	opts := []fetcher.Option{
		fetcher.WithLimiter(limiter),
		fetcher.WithUserAgents(a.cfg.Crawler.UserAgents, selector),
		fetcher.WithLogger(a.logger.Named("fetcher")),
	}
	if a.browser != nil && a.cfg.Render.PromotionThreshold > 0 {
		opts = append(opts, fetcher.WithPromoter(detector.NewHeuristic(a.cfg.Render.PromotionThreshold)))
	}
	gw, err := fetcher.NewGateway(static, browser, opts...)
	if err != nil {
		return fmt.Errorf("fetch gateway init failed: %w", err)
	}
	a.renderer = gw
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database DSN, run history stays in memory")
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // bounded by config validation
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	return nil
}

func (a *App) setupRunStore(context.Context) error {
	if a.pool == nil {
		a.runs = memorystore.NewRunStore()
		return nil
	}
	runs, err := pgstore.NewRunStore(a.pool, a.cfg.DB.RunsTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runs = runs
	a.logger.Info("run store initialized", zap.String("table", a.cfg.DB.RunsTable))
	return nil
}

func (a *App) setupSink(ctx context.Context) error {
	builder, err := istorage.NewBuilder(a.hasher, a.ids)
	if err != nil {
		return fmt.Errorf("record builder init failed: %w", err)
	}
	var records crawler.Sink
	switch a.cfg.Sink.Provider {
	case config.SinkPostgres:
		records, err = pgstore.NewRecordSink(a.pool, a.cfg.DB.Table, builder)
	case config.SinkSQLite:
		a.sqliteSink, err = sqlite.Open(ctx, a.cfg.SQLite.Path, builder)
		records = a.sqliteSink
	case config.SinkLocal:
		records, err = localsink.New(localsink.Config{
			BaseDir: a.cfg.Local.Dir,
			Prefix:  a.cfg.Storage.Prefix,
		}, builder)
	case config.SinkGCS:
		a.storageClient, err = gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		records, err = gcssink.New(a.storageClient, gcssink.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		}, builder)
	default:
		records = memorystore.NewRecordSink(builder)
	}
	if err != nil {
		return fmt.Errorf("%s sink init failed: %w", a.cfg.Sink.Provider, err)
	}

	var publisher crawler.Publisher = memorypublisher.New()
	if a.cfg.PubSub.TopicName != "" {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.publisher, err = gcppublisher.New(a.pubsubClient)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		publisher = a.publisher
		a.logger.Info("pubsub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName))
	}
	a.sink, err = crawler.NewNotifyingSink(records, publisher, a.hasher, a.cfg.PubSub.TopicName, a.logger.Named("notify"))
	if err != nil {
		return fmt.Errorf("notifying sink init failed: %w", err)
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	cfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMS) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(cfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", cfg.BufferSize),
		zap.Int("max_batch_events", cfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", cfg.MaxBatchWait))
	return nil
}

// Runs exposes the run history.
func (a *App) Runs() store.RunRepository { return a.runs }

// Crawl runs one site to completion under a fresh run id.
func (a *App) Crawl(ctx context.Context, kind sites.Kind, params crawler.Params) (crawler.Summary, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	return a.run(ctx, runID, kind, params)
}

// RunJob implements dispatcher.Runner.
func (a *App) RunJob(ctx context.Context, job dispatcher.Job) error {
	_, err := a.run(ctx, job.RunID, sites.Kind(job.Site), job.Params)
	return err
}

func (a *App) run(ctx context.Context, runID string, kind sites.Kind, params crawler.Params) (crawler.Summary, error) {
	started := a.clock.Now()
	engine, err := a.newEngine(kind)
	if err == nil {
		var summary crawler.Summary
		summary, err = engine.Run(ctx, runID, params)
		if err == nil {
			return summary, nil
		}
	}
	logging.ForRun(a.logger, runID, string(kind)).Error("crawl failed", zap.Error(err))
	a.emitRunError(runID, kind, started, err)
	return crawler.Summary{}, err
}

// newEngine builds a fresh engine per run. Site and engine add the site and
// run id fields to their own log lines.
func (a *App) newEngine(kind sites.Kind) (*crawler.Engine, error) {
	logger := a.logger.Named("crawler")
	site, err := sites.New(kind, a.cfg.SiteURLs(), a.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("site init failed: %w", err)
	}
	engine, err := crawler.NewEngine(a.cfg.EngineConfig(), site, a.renderer, a.sink,
		crawler.WithEmitter(a.hub),
		crawler.WithLogger(logger),
		crawler.WithClock(a.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return engine, nil
}

// emitRunError records a run that failed before or instead of finishing.
func (a *App) emitRunError(runID string, kind sites.Kind, started time.Time, runErr error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		a.logger.Warn("run failed with unparsable id", zap.String("run_id", runID), zap.Error(runErr))
		return
	}
	now := a.clock.Now()
	a.hub.Emit(progress.Event{
		RunID: progress.UUIDToBytes(id),
		TS:    now,
		Stage: progress.StageRunError,
		Site:  string(kind),
		Dur:   max(now.Sub(started), 0),
		Note:  runErr.Error(),
	})
}

// Launch validates a crawl request and queues it for the dispatcher.
func (a *App) Launch(ctx context.Context, kind sites.Kind, params crawler.Params) (string, error) {
	if _, err := sites.New(kind, a.cfg.SiteURLs(), a.clock, nil); err != nil {
		return "", err
	}
	now := a.clock.Now()
	if err := params.Validate(now); err != nil {
		return "", fmt.Errorf("validate params: %w", err)
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	job := dispatcher.Job{RunID: runID, Site: string(kind), Params: params, Submitted: now}
	if err := a.dispatch.Enqueue(ctx, job); err != nil {
		return "", err
	}
	a.logger.Info("crawl queued", zap.String("run_id", runID), zap.String("site", string(kind)))
	return runID, nil
}

// Ready pings Postgres when it is configured.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Serve runs the HTTP API and the job dispatcher until ctx is cancelled or
// the process receives SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpMetrics, err := metrics.NewHTTP(a.registry)
	if err != nil {
		return fmt.Errorf("http metrics init failed: %w", err)
	}
	apiServer, err := api.NewServer(api.Deps{
		Launcher:    a,
		Runs:        a.runs,
		Readiness:   a,
		Gatherer:    a.registry,
		HTTPMetrics: httpMetrics,
		Clock:       a.clock,
		Auth:        a.cfg.Auth,
		Logger:      a.logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		a.logger.Info("dispatcher started", zap.Int("workers", jobWorkers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderWait,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatched

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close flushes progress events, then releases clients and the browser.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sqliteSink != nil {
		if err := a.sqliteSink.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
