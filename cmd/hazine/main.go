package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"hazine/internal/amqp"
	"hazine/internal/backend"
	"hazine/internal/cache"
	"hazine/internal/cli"
	apphttp "hazine/internal/http"
	"hazine/internal/log"
	"hazine/internal/metrics"
	"hazine/internal/rates"
	"hazine/internal/report"
	"hazine/internal/services"
)

const cacheSweepInterval = 10 * time.Minute

func main() {
	envErr := cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(nil))
	logger := cli.SetupLogger(cfg)
	if envErr != nil {
		logger.Warn("Failed to load env file", log.FieldError, envErr.Error())
	}
	logger.Info("Starting hazine", cfg.Redacted()...)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", log.FieldError, err.Error())
		os.Exit(1)
	}

	ctx := context.Background()
	m := metrics.New()

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", log.FieldError, err.Error(), "backend", cfg.DataBackend)
		os.Exit(1)
	}
	logger.WithComponent(log.ComponentStorage).Info("Storage ready", "backend", cfg.DataBackend)

	navasan := rates.NewNavasanClient(cfg.NavasanBaseURL, cfg.NavasanAPIKey, nil)
	if !navasan.Configured() {
		logger.WithComponent(log.ComponentRates).Warn("NAVASAN_API_KEY not set; /exchange-rate and /convert will fail")
	}
	rateCache := rates.NewCache(navasan,
		rates.WithTTL(cfg.ExchangeRateTTL),
		rates.WithLogger(logger),
		rates.WithMetrics(m),
	)

	reportCache := cache.NewLRUCache[report.Summary](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	caches := cache.NewManager()
	caches.Register(reportCache)
	caches.StartCleanup(cacheSweepInterval)

	opts := []services.Option{
		services.WithReportCache(reportCache),
		services.WithLocation(loc),
		services.WithLogger(logger),
		services.WithMetrics(m),
	}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey, cfg.AMQPQueue, logger)
		if err != nil {
			// Events are best effort; the API runs without them.
			logger.WithComponent(log.ComponentAMQP).Error("Failed to connect to AMQP, events disabled", log.FieldError, err.Error())
		} else {
			opts = append(opts, services.WithEvents(client))
			logger.WithComponent(log.ComponentAMQP).Info("Publishing expense events", "exchange", cfg.AMQPExchange)
		}
	}
	expenses := services.NewExpenseService(store, opts...)
	tags := services.NewTagResolver(store, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Expenses:           expenses,
		Tags:               tags,
		Rates:              rateCache,
		Logger:             logger,
		Metrics:            m,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RateMaxAge:         cfg.ExchangeRateTTL,
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		caches.Stop()
		rateCache.Wait()
		if err := expenses.Close(); err != nil {
			logger.Error("Failed to close resources", log.FieldError, err.Error())
		}
	})

	logger.Info("Listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
