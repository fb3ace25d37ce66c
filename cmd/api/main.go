package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/doc-uploader/internal/config"
	"github.com/kursadbilgin/doc-uploader/internal/handler"
	infraredis "github.com/kursadbilgin/doc-uploader/internal/infra/redis"
	"github.com/kursadbilgin/doc-uploader/internal/observability"
	"github.com/kursadbilgin/doc-uploader/internal/progress"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/queue"
	"github.com/kursadbilgin/doc-uploader/internal/ratelimit"
	"github.com/kursadbilgin/doc-uploader/internal/service"
	"github.com/kursadbilgin/doc-uploader/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("doc-uploader api stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ingestor, err := provider.NewHTTPIngestor(cfg.IngestAPIURL, cfg.IngestAPIToken, cfg.IngestTimeout())
	if err != nil {
		return fmt.Errorf("ingestor initialization failed: %w", err)
	}

	checks := []handler.DependencyCheck{{
		Name: "ingest",
		Ping: func(ctx context.Context) error {
			_, err := ingestor.ListCollections(ctx)
			return err
		},
	}}

	var limiter ratelimit.RateLimiter = ratelimit.Unlimited{}
	if cfg.RedisURL != "" {
		rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.UploadRateLimitPerSec)
		if err != nil {
			return fmt.Errorf("rate limiter initialization failed: %w", err)
		}
		limiter = redisLimiter
		checks = append(checks, handler.DependencyCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("ingest rate limit enabled", zap.Int("perSecond", cfg.UploadRateLimitPerSec))
	}

	var publisher queue.Publisher
	if cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		rabbitPublisher := queue.NewRabbitMQPublisher(rabbit)
		defer rabbitPublisher.Close() //nolint:errcheck

		publisher = rabbitPublisher
		checks = append(checks, handler.DependencyCheck{
			Name: "rabbitmq",
			Ping: func(context.Context) error { return rabbit.Ping() },
		})
	}

	metrics := observability.NewMetrics()

	orchestrator, err := service.NewOrchestrator(
		ingestor,
		limiter,
		progress.NewTickingEstimator(cfg.ProgressTick()),
		cfg.AutoCloseDelay(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("orchestrator initialization failed: %w", err)
	}
	orchestrator.SetMetrics(metrics)

	uploads, err := service.NewUploadService(orchestrator, ingestor, publisher, logger)
	if err != nil {
		return fmt.Errorf("upload service initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "doc-uploader",
		BodyLimit:             cfg.MaxUploadBytes,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterUploadRoutes(app, uploads, int64(cfg.MaxUploadBytes)); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("doc-uploader api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down doc-uploader api")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown failed: %w", err))
		}
		if err := uploads.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("upload service shutdown failed: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
