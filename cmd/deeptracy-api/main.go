package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bbva/deeptracy-api/pkg/api"
	"github.com/bbva/deeptracy-api/pkg/auth"
	"github.com/bbva/deeptracy-api/pkg/broker"
	"github.com/bbva/deeptracy-api/pkg/config"
	"github.com/bbva/deeptracy-api/pkg/handlers"
	"github.com/bbva/deeptracy-api/pkg/logging"
	"github.com/bbva/deeptracy-api/pkg/metrics"
	"github.com/bbva/deeptracy-api/pkg/queue"
	"github.com/bbva/deeptracy-api/pkg/shutdown"
	"github.com/bbva/deeptracy-api/pkg/store"
	"github.com/bbva/deeptracy-api/pkg/store/memory"
	"github.com/bbva/deeptracy-api/pkg/store/postgres"
	"github.com/bbva/deeptracy-api/pkg/webhook"
	"github.com/bbva/deeptracy-api/pkg/webhook/parsers"
)

var version = "dev"

const defaultShutdownTimeout = 30 * time.Second

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.LogLevel(cfg.LogLevel))
	logging.LogConfigurationLoaded(logger, os.Getenv("CONFIG_FILE"), len(cfg.Providers))

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("deeptracy-api stopped with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTimeout, err := cfg.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = defaultShutdownTimeout
	}
	shutdownManager := shutdown.NewManager(shutdownTimeout, logger)

	// Persistence
	projectStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// NATS, only when a provider publishes its Hooks
	var publisher *broker.Publisher
	if cfg.NeedsNATS() {
		publisher, err = broker.Connect(ctx, cfg.NATS, logger)
		if err != nil {
			projectStore.Close()
			return err
		}
	}

	deps := handlers.Dependencies{Store: projectStore, Logger: logger}
	if publisher != nil {
		deps.Publisher = publisher
	}
	handlerRegistry, err := handlers.NewRegistryFromConfig(cfg, deps)
	if err != nil {
		closeAll(publisher, projectStore)
		return fmt.Errorf("build handlers: %w", err)
	}

	dispatcher := webhook.NewDispatcher(parsers.NewRegistry(cfg), handlerRegistry, logger)

	// Asynchronous routing of parsed Hooks
	hookQueue := queue.NewHookQueue(cfg.Queue.BufferSize, logger)

	retryConfig := queue.DefaultRetryConfig()
	if cfg.Queue.MaxRetries > 0 {
		retryConfig.MaxRetries = cfg.Queue.MaxRetries
	}
	retrier := queue.NewRetrier(retryConfig, logger, metrics.RecordHandlerRetry)

	handlerTimeout, _ := cfg.ParseDuration(cfg.Queue.HandlerTimeout)
	workerPool := queue.NewWorkerPool(hookQueue, cfg.Queue.Workers, handlerTimeout,
		func(ctx context.Context, d *queue.Delivery) error {
			fields := logrus.Fields{
				"request_id": d.RequestID,
				"provider":   d.Hook.Provider,
				"branch":     d.Hook.BranchName,
			}
			return retrier.Do(ctx, fields, func(ctx context.Context) error {
				return dispatcher.Route(ctx, d.Hook)
			})
		}, logger)

	opts := webhook.Options{
		Dispatcher:    dispatcher,
		Queue:         hookQueue,
		Authenticator: auth.NewAuthenticator(cfg, logger),
		Projects:      api.NewProjectHandler(projectStore, logger),
		Checks: map[string]webhook.ReadinessCheck{
			"store": projectStore.Ping,
		},
	}
	if cfg.Server.RateLimitPerMin > 0 {
		opts.RateLimiter = auth.NewRateLimiter(cfg.Server.RateLimitPerMin)
	}
	if dedupTTL, err := cfg.ParseDuration(cfg.Queue.DedupTTL); err == nil && dedupTTL > 0 {
		opts.Dedup = queue.NewDeliveryCache(cfg.Queue.DedupSize, dedupTTL, logger)
	}
	if publisher != nil {
		opts.Checks["nats"] = publisher.Ping
	}

	server := webhook.NewServer(cfg, opts, logger)

	// Stop accepting webhooks first, then drain the workers, then release
	// what the handlers use.
	shutdownManager.RegisterHandler("http-server", server.Shutdown)
	shutdownManager.RegisterHandler("worker-pool", workerPool.Stop)
	if publisher != nil {
		shutdownManager.RegisterHandler("nats", func(context.Context) error {
			return publisher.Close()
		})
	}
	shutdownManager.RegisterHandler("store", func(context.Context) error {
		projectStore.Close()
		return nil
	})

	workerPool.Start()
	logging.LogStartup(logger, version, cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return shutdownManager.Wait(gctx)
	})

	return g.Wait()
}

// openStore returns the project store selected by database.driver
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DatabaseDriverMemory:
		logger.Warn("Using in-memory project store, data is lost on restart")
		return memory.New(), nil
	case config.DatabaseDriverPostgres:
		if cfg.Database.AutoMigrate {
			if err := postgres.RunMigrations(ctx, cfg.Database.DSN); err != nil {
				return nil, err
			}
			if v, err := postgres.MigrationVersion(ctx, cfg.Database.DSN); err == nil {
				logger.WithField("version", v).Info("Database migrations applied")
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return postgres.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func closeAll(publisher *broker.Publisher, s store.Store) {
	if publisher != nil {
		_ = publisher.Close()
	}
	s.Close()
}
