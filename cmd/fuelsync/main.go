package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fuelsync/fuelsync/cmd/fuelsync/cli"
	"github.com/fuelsync/fuelsync/internal/app"
	"github.com/fuelsync/fuelsync/internal/audit"
	"github.com/fuelsync/fuelsync/internal/fuelprices"
	"github.com/fuelsync/fuelsync/internal/observability"
	"github.com/fuelsync/fuelsync/internal/platform/cache"
	"github.com/fuelsync/fuelsync/internal/platform/db"
	"github.com/fuelsync/fuelsync/internal/readings"
	"github.com/fuelsync/fuelsync/internal/reconciliation"
	"github.com/fuelsync/fuelsync/internal/shared"
	"github.com/fuelsync/fuelsync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		code := cli.RunJobsCommand(ctx, cfg.RedisAddr, os.Args[2:], os.Stdout, os.Stderr)
		stop()
		os.Exit(code)
	}

	dbpool, err := db.New(ctx, cfg.DBOptions("api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.CacheOptions("api"))
	if err != nil {
		// The price cache falls through to Postgres when Redis is down.
		logger.Warn("redis unavailable, price cache disabled", slog.Any("error", err))
	}
	var (
		priceCache  *fuelprices.Cache
		cachePinger app.Pinger
	)
	if redisClient != nil {
		priceCache = fuelprices.NewCache(redisClient, cfg.PriceCacheTTL)
		cachePinger = cache.Pinger{Client: redisClient}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queueClient := asynq.NewClient(redisOpts)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	auditSink := jobs.NewAuditEnqueuer(queueClient)

	metrics := observability.NewMetrics()
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	priceRepo := fuelprices.NewRepository(dbpool, cfg.DBLockTimeout)
	priceService := fuelprices.NewService(priceRepo, priceCache, auditSink, metrics, logger)

	precision := cfg.CurrencyPrecision
	readingRepo := readings.NewRepository(dbpool, cfg.DBLockTimeout)
	readingService := readings.NewService(readingRepo, auditSink, metrics, logger, readings.Options{
		Location:  cfg.Location(),
		Precision: &precision,
	})

	dayRepo := reconciliation.NewRepository(dbpool, cfg.DBLockTimeout)
	dayService := reconciliation.NewService(dayRepo, auditSink, metrics, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:                logger,
		Config:                cfg,
		PriceHandler:          fuelprices.NewHandler(logger, priceService),
		ReadingHandler:        readings.NewHandler(logger, readingService, idempotencyStore),
		ReconciliationHandler: reconciliation.NewHandler(logger, dayService),
		AuditHandler:          audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:            jobs.NewHandler(inspector, logger),
		Metrics:               metrics,
		Database:              dbpool,
		Cache:                 cachePinger,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("business_timezone", cfg.Location().String()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
