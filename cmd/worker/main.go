package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stockwatch/monitor-service/config"
	"github.com/stockwatch/monitor-service/internal/adapters/registry"
	"github.com/stockwatch/monitor-service/internal/adapters/stores"
	"github.com/stockwatch/monitor-service/internal/database"
	"github.com/stockwatch/monitor-service/internal/handlers"
	"github.com/stockwatch/monitor-service/internal/httpx"
	"github.com/stockwatch/monitor-service/internal/middleware"
	"github.com/stockwatch/monitor-service/internal/notify"
	"github.com/stockwatch/monitor-service/internal/poller"
	"github.com/stockwatch/monitor-service/internal/proxy"
	"github.com/stockwatch/monitor-service/internal/reconcile"
	"github.com/stockwatch/monitor-service/internal/scheduler"
	"github.com/stockwatch/monitor-service/internal/sweepers"
	"github.com/stockwatch/monitor-service/internal/taskqueue"
	"github.com/stockwatch/monitor-service/internal/telemetry"
	"github.com/stockwatch/monitor-service/internal/workers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting monitor service worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup := telemetry.MustInit(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	defer cleanup(context.Background())

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	pool, err := proxy.NewPool(cfg.Scraper.ProxyURLs)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid proxy configuration")
	}
	if pool.Size() > 0 {
		logger.Info().Int("proxies", pool.Size()).Msg("Proxy pool configured")
	}

	client := httpx.NewClient(httpx.Config{
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		MaxRetries:        cfg.Scraper.MaxRetries,
		InitialBackoff:    time.Duration(cfg.Scraper.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.Scraper.MaxBackoffMs) * time.Millisecond,
		RequestTimeout:    cfg.Scraper.RequestTimeout,
	}, pool)

	reg := registry.NewRegistry()
	stores.RegisterAll(reg, client)

	catalog := database.NewCatalog(database.Pool())
	if err := ensureStores(ctx, catalog, reg); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register stores")
	}

	queue := taskqueue.New(database.Pool())

	var sender notify.Sender
	if cfg.Notify.WebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout)
		logger.Info().Msg("Using webhook alert delivery")
	} else {
		sender = &notify.LogSender{Logger: *logger}
		logger.Warn().Msg("No alert webhook configured, alerts go to the log")
	}

	dispatcher := notify.NewDispatcher(catalog, sender, *logger,
		notify.WithCooldown(cfg.Notify.Cooldown),
		notify.WithSendConcurrency(cfg.Notify.SendConcurrency),
	)

	pipeline := poller.New(catalog, reg, dispatcher, *logger,
		poller.WithFreshnessWindow(cfg.Pipeline.FreshnessWindow),
		poller.WithConcurrency(cfg.Pipeline.Concurrency),
	)
	reconciler := reconcile.New(catalog, queue, *logger)

	worker := workers.New(queue, workers.Config{
		WorkerID:   cfg.Worker.ID,
		Kinds:      []string{taskqueue.KindPollStoreListing, taskqueue.KindInsertStoreListing, taskqueue.KindReconcileStore},
		MaxTasks:   cfg.Worker.MaxTasks,
		NumWorkers: cfg.Worker.NumWorkers,
		PollDelay:  cfg.Worker.PollDelay,
	}, *logger)
	worker.RegisterHandler(taskqueue.KindPollStoreListing, workers.NewPollListingHandler(pipeline))
	worker.RegisterHandler(taskqueue.KindInsertStoreListing, workers.NewInsertListingHandler(pipeline))
	worker.RegisterHandler(taskqueue.KindReconcileStore, workers.NewReconcileStoreHandler(reconciler, reg))
	worker.Start(ctx)

	sched := scheduler.New(catalog, queue, scheduler.Config{
		FrequentInterval:  cfg.Scheduler.FrequentInterval,
		PeriodicInterval:  cfg.Scheduler.PeriodicInterval,
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
		JobTTL:            cfg.Scheduler.JobTTL,
	}, reg.Handles(), *logger)
	go sched.Run(ctx)

	taskSweeper := sweepers.NewTaskQueueSweeper(queue, *logger, cfg.Worker.SweepInterval)
	go taskSweeper.Start(ctx)

	srv := buildServer(cfg, queue)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")
	cancel()
	worker.Stop()
	taskSweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Worker exited")
}

// ensureStores upserts a store row for every registered adapter so listings
// always have a parent to attach to.
func ensureStores(ctx context.Context, catalog *database.Catalog, reg *registry.Registry) error {
	for _, handle := range reg.Handles() {
		adapter, err := reg.ResolveAdapter(handle)
		if err != nil {
			return err
		}
		baseURL := ""
		if prefixes := adapter.DomainPrefixes(); len(prefixes) > 0 {
			baseURL = "https://" + prefixes[0]
		}
		if _, err := catalog.EnsureStore(ctx, adapter.Handle(), adapter.Name(), baseURL); err != nil {
			return err
		}
	}
	return nil
}

func buildServer(cfg *config.Config, queue *taskqueue.TaskQueue) *http.Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware())
	internal.Use(middleware.ServiceRateLimitMiddleware(50, 100))
	{
		internal.GET("/health", handlers.HealthCheck)
		internal.GET("/status", handlers.Status(queue))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &logger
}
