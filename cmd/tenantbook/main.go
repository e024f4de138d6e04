package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tanvir/tenantbook/internal/audit"
	"github.com/tanvir/tenantbook/internal/auth"
	"github.com/tanvir/tenantbook/internal/config"
	"github.com/tanvir/tenantbook/internal/events"
	"github.com/tanvir/tenantbook/internal/httpapi"
	"github.com/tanvir/tenantbook/internal/httpx"
	"github.com/tanvir/tenantbook/internal/otelx"
	"github.com/tanvir/tenantbook/internal/redisx"
	"github.com/tanvir/tenantbook/internal/retention"
	"github.com/tanvir/tenantbook/internal/runtime"
	"github.com/tanvir/tenantbook/internal/store"
)

func main() {
	serviceName := config.String("SERVICE_NAME", "tenantbook")
	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	port, err := config.Port("PORT", "8080")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	databaseURL := config.String("DATABASE_URL", "")
	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	sweepInterval := time.Duration(config.Int("RETENTION_SWEEP_INTERVAL_SECONDS", 60)) * time.Second
	sweepBatch := config.Int("RETENTION_SWEEP_BATCH", 100)
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("failed to set up tracing", "err", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", "err", err)
		}
	}()

	rdb, err := redisx.Open(ctx, redisx.Options{
		Addr:     redisAddr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	if err != nil {
		logger.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	checks := []runtime.ReadyCheck{
		{Name: "redis", Check: redisx.ReadyCheck(rdb)},
	}

	// The audit trail is optional; without DATABASE_URL mutations are only
	// logged, not recorded.
	var auditRepo *audit.Repository
	if databaseURL != "" {
		pool, err := audit.OpenPool(ctx, databaseURL)
		if err != nil {
			logger.Error("failed to connect to audit db", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		auditRepo = audit.NewRepository(pool)
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure audit schema", "err", err)
			os.Exit(1)
		}
		checks = append(checks, runtime.ReadyCheck{Name: "audit-db", Check: audit.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; audit trail disabled")
	}

	var publisher *events.Publisher
	if kafkaBrokers != "" {
		publisher = events.NewPublisher(kafkaBrokers, logger)
		go publisher.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: events.ReadyCheck(kafkaBrokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; lifecycle events disabled")
	}

	st := store.New(rdb)
	verifier := auth.NewVerifier(jwtSecret)

	sweeper := retention.New(st, logger, publisher, retention.Config{
		Interval:  sweepInterval,
		BatchSize: sweepBatch,
	})
	go sweeper.Run(ctx)

	mux := runtime.NewBaseMux(checks...)
	httpapi.New(st, verifier, publisher, auditRepo, logger).Register(mux)

	limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, serviceName)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		limiter.Middleware(logger, true),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "http.server")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
