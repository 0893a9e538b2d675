// Package server assembles the service and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/api"
	"github.com/JakeFAU/pagerender/internal/cache"
	"github.com/JakeFAU/pagerender/internal/clock/system"
	"github.com/JakeFAU/pagerender/internal/config"
	"github.com/JakeFAU/pagerender/internal/fetch"
	"github.com/JakeFAU/pagerender/internal/hash/sha256"
	"github.com/JakeFAU/pagerender/internal/id/uuid"
	"github.com/JakeFAU/pagerender/internal/logging"
	"github.com/JakeFAU/pagerender/internal/policy/ratelimit"
	"github.com/JakeFAU/pagerender/internal/preload"
	memorypublisher "github.com/JakeFAU/pagerender/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pagerender/internal/publisher/pubsub"
	"github.com/JakeFAU/pagerender/internal/render"
	"github.com/JakeFAU/pagerender/internal/render/chromedp"
	"github.com/JakeFAU/pagerender/internal/scrape"
	"github.com/JakeFAU/pagerender/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	gateway     *render.Gateway
	cache       *cache.Cache
	coordinator *fetch.Coordinator
	preload     *preload.Manager
	apiServer   *api.Server

	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger        *zap.Logger
	engineFactory scrape.EngineFactory
	publisher     scrape.Publisher
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithEngineFactory replaces the headless Chrome engine.
func WithEngineFactory(factory scrape.EngineFactory) Option {
	return func(o *buildOptions) {
		o.engineFactory = factory
	}
}

// WithPublisher replaces the refresh event publisher chosen from configuration.
func WithPublisher(p scrape.Publisher) Option {
	return func(o *buildOptions) {
		o.publisher = p
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("concurrency_limit", cfg.Render.ConcurrencyLimit),
		zap.Duration("cache_ttl", cfg.CacheTTL()),
		zap.Duration("refresh_interval", cfg.RefreshInterval()),
		zap.Int("preload_urls", len(cfg.Preload.URLs)),
	)
	if cfg.RefreshInterval() >= cfg.CacheTTL() {
		logger.Warn("preload refresh interval is not shorter than cache ttl; preload entries will go stale between cycles",
			zap.Duration("refresh_interval", cfg.RefreshInterval()),
			zap.Duration("cache_ttl", cfg.CacheTTL()),
		)
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	if err := app.setupRendering(o.engineFactory); err != nil {
		return nil, err
	}

	app.cache = cache.New(cfg.CacheTTL(), system.New(), sha256.New())
	coordinator, err := fetch.NewCoordinator(app.gateway, app.cache, logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}
	app.coordinator = coordinator

	publisher := o.publisher
	if publisher == nil {
		publisher, err = app.setupPublisher(ctx)
		if err != nil {
			return nil, err
		}
	}

	app.preload, err = preload.NewManager(preload.Config{
		Interval:    cfg.RefreshInterval(),
		Parallelism: cfg.Preload.Parallelism,
		WarmOnStart: cfg.Preload.WarmOnStart,
		Topic:       cfg.PubSub.TopicName,
	}, coordinator, app.cache, cfg.Preload.URLs,
		preload.WithPublisher(publisher),
		preload.WithLogger(logger.Named("preload")),
	)
	if err != nil {
		return nil, fmt.Errorf("preload manager init failed: %w", err)
	}

	app.apiServer = api.NewServer(
		coordinator,
		app.preload,
		app.cache,
		app.gateway,
		uuid.New(),
		*cfg,
		logger.Named("api"),
	)
	return app, nil
}

func (a *App) setupRendering(factory scrape.EngineFactory) error {
	if factory == nil {
		factory = chromedp.Factory(chromedp.Config{
			ExecPath:  a.cfg.Render.ExecPath,
			UserAgent: a.cfg.Render.UserAgent,
			Settle:    a.cfg.Settle(),
		}, a.logger.Named("browser"))
	}

	var pacer render.Pacer
	if limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Render.DomainQPS,
		DefaultBurst: a.cfg.Render.DomainBurst,
	}); limiter != nil {
		pacer = limiter
		a.logger.Info("per-host render pacing enabled",
			zap.Float64("domain_qps", a.cfg.Render.DomainQPS),
			zap.Int("domain_burst", a.cfg.Render.DomainBurst),
		)
	}

	gateway, err := render.NewGateway(render.Config{
		ConcurrencyLimit: a.cfg.Render.ConcurrencyLimit,
		Timeout:          a.cfg.NavTimeout(),
		Minify:           a.cfg.Render.Minify,
	}, factory, pacer, a.logger.Named("render"))
	if err != nil {
		return fmt.Errorf("render gateway init failed: %w", err)
	}
	a.gateway = gateway
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (scrape.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, refresh events stay in memory")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Gateway exposes the render gateway to one-shot commands.
func (a *App) Gateway() *render.Gateway {
	return a.gateway
}

// Run starts the browser, the preload loop, and the HTTP server, and blocks
// until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.gateway.Start(ctx); err != nil {
		a.logger.Error("render engine failed to start; will retry on first render", zap.Error(err))
	}

	preloadDone := make(chan struct{})
	go func() {
		defer close(preloadDone)
		a.preload.Run(ctx)
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
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownTimeout := a.cfg.ShutdownTimeout()
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-preloadDone

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases the browser, the publisher, and telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
