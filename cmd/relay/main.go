package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/emrekoca/audit-relay/internal/config"
	"github.com/emrekoca/audit-relay/internal/endpoint"
	"github.com/emrekoca/audit-relay/internal/engine"
	"github.com/emrekoca/audit-relay/internal/handler"
	infraamqp "github.com/emrekoca/audit-relay/internal/infra/amqp"
	"github.com/emrekoca/audit-relay/internal/infra/postgresql"
	"github.com/emrekoca/audit-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/emrekoca/audit-relay/internal/infra/redis"
	"github.com/emrekoca/audit-relay/internal/infra/redisstream"
	"github.com/emrekoca/audit-relay/internal/infra/store"
	"github.com/emrekoca/audit-relay/internal/infra/webhook"
	"github.com/emrekoca/audit-relay/internal/notifier"
	"github.com/emrekoca/audit-relay/internal/observability"
	"github.com/emrekoca/audit-relay/internal/repository"
	"github.com/emrekoca/audit-relay/internal/service"
	"github.com/emrekoca/audit-relay/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("audit-relay exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	amqpClient, err := infraamqp.NewClient(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer amqpClient.Close()

	metrics := observability.NewMetrics()
	auditRepo := repository.NewGormAuditRecordRepo(db)

	registry, err := buildRegistry(amqpClient, rdb, auditRepo)
	if err != nil {
		return err
	}

	eng, err := engine.New(registry,
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}

	auditNotifier, err := buildAuditNotifier(cfg, eng, logger, metrics)
	if err != nil {
		return err
	}
	if err := eng.AddNotifier(auditNotifier); err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start failed: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Stop(stopCtx); err != nil {
			logger.Warn("engine stop failed", zap.Error(err))
		}
	}()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	source, err := infraamqp.NewSource(amqpClient, cfg.SourceQueue, cfg.WorkerConcurrency, logger)
	if err != nil {
		return fmt.Errorf("source initialization failed: %w", err)
	}

	routeService, err := service.NewRouteService(
		eng,
		source,
		cfg.DestinationURI,
		cfg.SourceQueue,
		rateLimiter,
		cfg.WorkerConcurrency,
		logger,
		metrics,
	)
	if err != nil {
		return fmt.Errorf("route service initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterAuditRoutes(app, auditRepo); err != nil {
		return fmt.Errorf("audit routes registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("relay started",
			zap.String("sourceQueue", cfg.SourceQueue),
			zap.String("destination", cfg.DestinationURI),
			zap.Int("concurrency", cfg.WorkerConcurrency),
		)
		return routeService.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api listen failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("audit-relay shut down")
	return nil
}

func buildRegistry(
	amqpClient *infraamqp.Client,
	rdb *redis.Client,
	auditRepo repository.AuditRecordRepository,
) (*endpoint.Registry, error) {
	registry := endpoint.NewRegistry()

	amqpFactory, err := infraamqp.NewFactory(amqpClient)
	if err != nil {
		return nil, err
	}
	if err := registry.Register("amqp", amqpFactory); err != nil {
		return nil, err
	}

	httpFactory := webhook.NewFactory(resty.New())
	if err := registry.Register("http", httpFactory); err != nil {
		return nil, err
	}
	if err := registry.Register("https", httpFactory); err != nil {
		return nil, err
	}

	streamFactory, err := redisstream.NewFactory(rdb)
	if err != nil {
		return nil, err
	}
	if err := registry.Register("redis", streamFactory); err != nil {
		return nil, err
	}

	storeFactory, err := store.NewFactory(auditRepo)
	if err != nil {
		return nil, err
	}
	if err := registry.Register("store", storeFactory); err != nil {
		return nil, err
	}

	return registry, nil
}

func buildAuditNotifier(
	cfg *config.Config,
	eng *engine.Engine,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*notifier.AuditNotifier, error) {
	opts := []notifier.Option{
		notifier.WithEndpointURI(cfg.AuditEndpointURI),
		notifier.WithLogger(logger),
		notifier.WithMetrics(metrics),
	}

	kinds, err := cfg.AuditKinds()
	if err != nil {
		return nil, fmt.Errorf("invalid audit events filter: %w", err)
	}
	if len(kinds) > 0 {
		opts = append(opts, notifier.WithPredicate(notifier.KindPredicate(kinds...)))
	}

	auditNotifier, err := notifier.NewAuditNotifier(eng, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit notifier initialization failed: %w", err)
	}

	return auditNotifier, nil
}
