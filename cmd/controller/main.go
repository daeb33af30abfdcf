// Package main is the entry point for the scenepipe controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"scenepipe/internal/cache"
	"scenepipe/internal/config"
	"scenepipe/internal/controller"
	"scenepipe/internal/controller/handlers"
	"scenepipe/internal/estimate"
	"scenepipe/internal/logger"
	"scenepipe/internal/notify"
	"scenepipe/internal/observability"
	"scenepipe/internal/pipeline"
	"scenepipe/internal/scheduler"
	"scenepipe/internal/storage"
	"scenepipe/internal/store"
	"scenepipe/internal/store/postgres"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run asset store migrations before starting (postgres store only)")
	configPath := flag.String("config", "", "Path to config file (default: scenepipe.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log, *migrateFlag || cfg.MigrateOnStart); err != nil {
		log.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "scenepipe-controller", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("scenepipe-controller")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	metrics, err := observability.NewPipelineMetrics(nil)
	if err != nil {
		return fmt.Errorf("init pipeline metrics: %w", err)
	}

	// Asset store
	assets, closeAssets, err := openAssetStore(ctx, cfg, log, migrate)
	if err != nil {
		return err
	}
	defer closeAssets()

	// Cache and job registry
	resultCache, err := cache.New(cache.Options{
		Capacity:         cfg.Cache.Capacity,
		NearDuplicates:   cfg.Cache.NearDuplicates,
		SimilarityWindow: cfg.Cache.SimilarityWindow,
	})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	registry := store.NewRegistry(store.RegistryConfig{
		ProgressHistory: cfg.Jobs.ProgressHistory,
		Retention:       cfg.Jobs.Retention,
	})
	defer registry.Close()

	// Reads the registry only when scraped.
	if err := metrics.RegisterActiveJobs(registry.ActiveCount); err != nil {
		log.Warn("failed to register active jobs metric", "error", err)
	}

	// Event sinks
	hub := notify.NewHub()
	go hub.Run(ctx)

	channels := []notify.Channel{hub}
	if cfg.RedisAddr != "" {
		rc, err := notify.NewRedisChannel(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeQuietly(log, "redis", rc)
		channels = append(channels, rc)
	}
	if cfg.AMQPURL != "" {
		ac, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer closeQuietly(log, "amqp", ac)
		channels = append(channels, ac)
	}
	broadcaster := notify.NewBroadcaster(cfg.EventBuffer, log, channels...)

	// Orchestrator
	est := estimate.Estimator{Pricing: cfg.Pricing, Durations: cfg.BatchDurations}
	orch, err := pipeline.New(cfg, pipeline.Deps{
		Registry:  registry,
		Assets:    assets,
		Scheduler: scheduler.New(log, metrics, est),
		Cache:     resultCache,
		Estimator: est,
		Events:    broadcaster,
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	deps := handlers.Deps{
		Orchestrator: orch,
		Cache:        resultCache,
		Events:       hub,
		Logger:       log,
	}
	if p, ok := assets.(store.Pinger); ok {
		deps.Ready = p
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, deps, controller.Options{
		SubmitRateLimit: cfg.SubmitRateLimit,
		SubmitBurst:     cfg.SubmitBurst,
		Metrics:         metricsHandler,
		Logger:          log,
	})

	log.Info("scenepipe controller starting", "addr", addr, "asset_store", cfg.AssetStore)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	// Graceful Shutdown
	log.Info("waiting for running jobs", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("jobs still running at shutdown", "active", registry.ActiveCount(), "error", err)
	}
	if err := broadcaster.Close(shutdownCtx); err != nil {
		log.Warn("failed to flush events", "error", err, "dropped", broadcaster.Dropped())
	}
	log.Info("controller exited properly")
	return nil
}

func openAssetStore(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (store.AssetStore, func(), error) {
	switch cfg.AssetStore {
	case config.AssetStorePostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to DB: %w", err)
		}
		if migrate {
			log.Info("running database migrations")
			if err := postgres.Migrate(pg.DB()); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return pg, func() { closeQuietly(log, "postgres", pg) }, nil
	default:
		fs, err := storage.NewFileStore(cfg.AssetDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open asset dir: %w", err)
		}
		return fs, func() {}, nil
	}
}

func closeQuietly(log *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", "component", name, "error", err)
	}
}
