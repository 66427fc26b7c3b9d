package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/pushpay-backend/api/controllers"
	"github.com/angelmondragon/pushpay-backend/api/routes"
	"github.com/angelmondragon/pushpay-backend/internal/fulfillment"
	"github.com/angelmondragon/pushpay-backend/internal/intents"
	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/internal/status"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/migrate"
	"github.com/angelmondragon/pushpay-backend/pkg/mpesa"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	creds, err := mpesa.ResolveCredentials(context.Background(), cfg.Mpesa.Credentials, logg)
	if err != nil {
		logg.Critical(context.Background(), "mpesa credentials unavailable", err)
		os.Exit(1)
	}
	mpesaOpts := []mpesa.Option{
		mpesa.WithEnvironment(cfg.Mpesa.Environment),
		mpesa.WithHTTPClient(&http.Client{Timeout: cfg.Mpesa.RequestTimeout}),
	}
	if cfg.Mpesa.BaseURL != "" {
		mpesaOpts = append(mpesaOpts, mpesa.WithBaseURL(cfg.Mpesa.BaseURL))
	}
	provider, err := mpesa.NewClient(creds, mpesaOpts...)
	if err != nil {
		logg.Error(context.Background(), "failed to create mpesa client", err)
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.EnsureSchema(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "database schema not ready", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	intentRepo := intents.NewRepository(dbClient.DB())
	fulfillmentRepo := fulfillment.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	dispatcher, err := fulfillment.NewDispatcher(fulfillment.DispatcherParams{
		DB:         dbClient,
		Repository: fulfillmentRepo,
		Events:     outboxService,
		Logger:     logg,
		Metrics:    paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment dispatcher", err)
		os.Exit(1)
	}

	ledger, err := reconciliation.NewLedger(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation ledger", err)
		os.Exit(1)
	}

	engine, err := reconciliation.NewEngine(reconciliation.EngineParams{
		Provider:          provider,
		Intents:           intentRepo,
		Orders:            fulfillmentRepo,
		Dispatcher:        dispatcher,
		Ledger:            ledger,
		Logger:            logg,
		Metrics:           paymentMetrics,
		CallbackURL:       cfg.Mpesa.CallbackURL,
		CallbackSecret:    cfg.Mpesa.CallbackSecret,
		AccountReference:  cfg.Mpesa.AccountReference,
		PersistTimeout:    cfg.Payments.PersistTimeout,
		UnknownTokenGrace: cfg.Payments.UnknownTokenGrace,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	statusService, err := status.NewService(intentRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create status service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	readiness := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, redisClient, readiness, engine, statusService, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}
