// Package server assembles the wubwatch daemon: the watch manager, the session
// event hub, the monitoring dashboard and the operator HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/api"
	"github.com/JakeFAU/wubwatch/internal/channel"
	"github.com/JakeFAU/wubwatch/internal/clock"
	"github.com/JakeFAU/wubwatch/internal/clock/system"
	"github.com/JakeFAU/wubwatch/internal/config"
	"github.com/JakeFAU/wubwatch/internal/countdown"
	"github.com/JakeFAU/wubwatch/internal/logging"
	"github.com/JakeFAU/wubwatch/internal/monitor"
	"github.com/JakeFAU/wubwatch/internal/progress"
	progresssinks "github.com/JakeFAU/wubwatch/internal/progress/sinks"
	"github.com/JakeFAU/wubwatch/internal/storage/memory"
	"github.com/JakeFAU/wubwatch/internal/telemetry"
	"github.com/JakeFAU/wubwatch/internal/watch"
)

// Version is reported to tracing; set with -ldflags at build time.
var Version = "dev"

// Deps overrides the process-wide collaborators Build would otherwise create.
// Zero fields select the production defaults.
type Deps struct {
	Logger     *zap.Logger
	Dialer     channel.Dialer
	Registerer prometheus.Registerer
	HTTPClient *http.Client
	Clock      clock.Clock
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	manager   *watch.Manager
	hub       *progress.Hub
	history   *memory.SessionStore
	adapter   *channel.Adapter
	dashboard *monitor.Dashboard

	cancel         context.CancelFunc
	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
}

// Handler exposes the operator API, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Manager returns the session manager.
func (a *App) Manager() *watch.Manager {
	return a.manager
}

// Run starts the HTTP API and the dashboard loops and blocks until ctx is
// canceled or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.runDashboard(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

func (a *App) runDashboard(ctx context.Context) {
	go func() {
		if err := a.dashboard.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("dashboard stopped", zap.Error(err))
		}
	}()
	if a.cfg.Monitor.FeedResource == "" {
		return
	}
	feed, err := a.adapter.Open(ctx, a.cfg.Monitor.FeedResource)
	if err != nil {
		a.logger.Warn("monitor feed unavailable", zap.Error(err))
		return
	}
	defer func() {
		if err := feed.Close(); err != nil {
			a.logger.Debug("monitor feed close", zap.Error(err))
		}
	}()
	if err := a.dashboard.Feed().Consume(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("monitor feed stopped", zap.Error(err))
	}
}

// Close stops every session, drains the hub into its sinks and flushes
// observability. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if shutdownErr := a.manager.Shutdown(ctx); shutdownErr != nil {
			a.logger.Warn("session shutdown incomplete", zap.Error(shutdownErr))
			err = shutdownErr
		}
		if a.cancel != nil {
			a.cancel()
		}
		if a.hub != nil {
			if closeErr := a.hub.Close(ctx); closeErr != nil {
				a.logger.Warn("progress hub close failed", zap.Error(closeErr))
			}
		}
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return err
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on non-file sinks such as stderr on some platforms.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	return BuildWith(ctx, cfg, Deps{})
}

// BuildWith is Build with injectable collaborators.
func BuildWith(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = logging.Build(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	runCtx, cancel := context.WithCancel(ctx)
	app := &App{cfg: cfg, logger: logger, cancel: cancel}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("channel", cfg.Channel.BaseURL),
		zap.String("monitor", cfg.Monitor.BaseURL),
	)

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, Version, logger.Named("trace"))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.history = memory.NewSessionStore(cfg.Watch.HistoryLimit)
	if err := setupProgress(runCtx, app, deps.Registerer); err != nil {
		cancel()
		return nil, err
	}

	app.adapter = setupChannel(app, deps.Dialer)

	var err error
	app.manager, err = watch.NewManager(runCtx, watch.ManagerConfig{
		Opener: watch.ChannelOpener(app.adapter),
		Session: watch.Options{
			Clock: deps.Clock,
			Countdown: countdown.Config{
				Window: cfg.Countdown.Window(),
				Period: cfg.Countdown.Period(),
			},
			Emitter: app.hub,
		},
		MaxSessions: cfg.Watch.MaxSessions,
		Logger:      logger.Named("watch"),
	})
	if err != nil {
		app.shutdownEarly()
		return nil, fmt.Errorf("watch manager init failed: %w", err)
	}

	app.dashboard, err = setupMonitor(app, deps)
	if err != nil {
		app.shutdownEarly()
		return nil, err
	}

	app.apiServer = api.NewServer(api.Options{
		Sessions: app.manager,
		History:  app.history,
		Monitor:  app.dashboard,
		Logger:   logger.Named("api"),
	})
	return app, nil
}

func (a *App) shutdownEarly() {
	a.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if a.hub != nil {
		_ = a.hub.Close(ctx)
	}
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(ctx)
	}
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewRegistrySink(app.history, app.logger.Named("progress_registry")),
		promSink,
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:       app.cfg.Progress.BufferSize,
		MaxBatchEvents:   app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:     app.cfg.Progress.MaxBatchWait(),
		SinkTimeout:      app.cfg.Progress.SinkTimeout(),
		CoalesceProgress: app.cfg.Progress.Coalesce,
		BaseContext:      ctx,
		Logger:           app.logger.Named("progress_hub"),
	}
	app.hub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
		zap.Bool("coalesce_progress", hubCfg.CoalesceProgress),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

// NewChannelAdapter builds the push channel adapter described by cfg. dialer
// may be nil to use WebSockets.
func NewChannelAdapter(cfg config.ChannelConfig, dialer channel.Dialer, logger *zap.Logger) *channel.Adapter {
	if dialer == nil {
		dialer = channel.NewWebsocketDialer(channel.WebsocketConfig{
			HandshakeTimeout: cfg.HandshakeTimeout(),
			ReadLimitBytes:   cfg.ReadLimitBytes,
		})
	}
	return channel.New(channel.Config{
		BaseURL:           cfg.BaseURL,
		ProgressResource:  cfg.ProgressResource,
		Separator:         cfg.Separator,
		ReconnectInterval: cfg.ReconnectInterval(),
		ReconnectBurst:    cfg.ReconnectBurst,
		MaxReconnects:     cfg.MaxReconnects,
		EventBuffer:       cfg.EventBuffer,
	}, dialer, logger)
}

func setupChannel(app *App, dialer channel.Dialer) *channel.Adapter {
	app.logger.Info("push channel configured",
		zap.String("base_url", app.cfg.Channel.BaseURL),
		zap.String("progress_resource", app.cfg.Channel.ProgressResource),
		zap.Int("max_reconnects", app.cfg.Channel.MaxReconnects),
	)
	return NewChannelAdapter(app.cfg.Channel, dialer, app.logger.Named("channel"))
}

// NewMonitorDashboard builds the dashboard described by cfg.
func NewMonitorDashboard(cfg config.MonitorConfig, httpClient *http.Client, clk clock.Clock, logger *zap.Logger) (*monitor.Dashboard, error) {
	client, err := monitor.NewClient(monitor.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout(),
	}, httpClient, logger.Named("client"))
	if err != nil {
		return nil, fmt.Errorf("monitor client init failed: %w", err)
	}
	if clk == nil {
		clk = system.New()
	}
	feed := monitor.NewFeed(monitor.DefaultFeedLimit, logger.Named("feed"))
	return monitor.NewDashboard(client, feed, clk, cfg.PollInterval(), logger), nil
}

func setupMonitor(app *App, deps Deps) (*monitor.Dashboard, error) {
	return NewMonitorDashboard(app.cfg.Monitor, deps.HTTPClient, deps.Clock, app.logger.Named("monitor"))
}

// SiteURL parses the configured front end address used to resolve links.
func SiteURL(cfg *config.Config) (*url.URL, error) {
	u, err := url.Parse(cfg.Watch.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("parse watch.site_url: %w", err)
	}
	return u, nil
}
