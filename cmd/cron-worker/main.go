package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pushpay-backend/internal/cron"
	"github.com/angelmondragon/pushpay-backend/internal/fulfillment"
	"github.com/angelmondragon/pushpay-backend/internal/intents"
	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/migrate"
	"github.com/angelmondragon/pushpay-backend/pkg/mpesa"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

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

	engine, intentRepo, err := buildEngine(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation engine", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(cfg, logg, dbClient, engine, intentRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockKey+":"+envOrLocal(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
		"jobs":     registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildEngine(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*reconciliation.Engine, intents.Repository, error) {
	creds, err := mpesa.ResolveCredentials(context.Background(), cfg.Mpesa.Credentials, logg)
	if err != nil {
		return nil, nil, err
	}
	opts := []mpesa.Option{
		mpesa.WithEnvironment(cfg.Mpesa.Environment),
		mpesa.WithHTTPClient(&http.Client{Timeout: cfg.Mpesa.RequestTimeout}),
	}
	if cfg.Mpesa.BaseURL != "" {
		opts = append(opts, mpesa.WithBaseURL(cfg.Mpesa.BaseURL))
	}
	provider, err := mpesa.NewClient(creds, opts...)
	if err != nil {
		return nil, nil, err
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	intentRepo := intents.NewRepository(dbClient.DB())
	fulfillmentRepo := fulfillment.NewRepository(dbClient.DB())

	dispatcher, err := fulfillment.NewDispatcher(fulfillment.DispatcherParams{
		DB:         dbClient,
		Repository: fulfillmentRepo,
		Events:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:     logg,
		Metrics:    paymentMetrics,
	})
	if err != nil {
		return nil, nil, err
	}

	ledger, err := reconciliation.NewLedger(redisClient)
	if err != nil {
		return nil, nil, err
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
		return nil, nil, err
	}
	return engine, intentRepo, nil
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, engine *reconciliation.Engine, intentRepo intents.Repository) ([]cron.Job, error) {
	builders := []func() (cron.Job, error){
		func() (cron.Job, error) {
			return cron.NewCallbackReplayJob(cron.CallbackReplayJobParams{
				Logger:      logg,
				Engine:      engine,
				MaxAttempts: cfg.Payments.MaxReplayAttempts,
				MaxAge:      cfg.Payments.LedgerTTL,
			})
		},
		func() (cron.Job, error) {
			return cron.NewStaleIntentJob(cron.StaleIntentJobParams{
				Logger:        logg,
				Intents:       intentRepo,
				Engine:        engine,
				PendingWindow: cfg.Payments.PendingWindow,
			})
		},
		func() (cron.Job, error) {
			return cron.NewFulfillmentRetryJob(cron.FulfillmentRetryJobParams{
				Logger:      logg,
				Intents:     intentRepo,
				Engine:      engine,
				Grace:       cfg.Payments.FulfillmentGrace,
				MaxAttempts: cfg.Payments.MaxFulfillAttempts,
			})
		},
		func() (cron.Job, error) {
			return cron.NewReconciliationReportJob(cron.ReconciliationReportJobParams{
				Logger: logg,
				Engine: engine,
			})
		},
		func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
				Logger:        logg,
				DB:            dbClient,
				Repository:    outbox.NewRepository(dbClient.DB()),
				DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
				Retention:     cfg.Outbox.Retention,
				DLQRetention:  cfg.Outbox.DLQRetention,
				MinAttempts:   cfg.Outbox.MaxAttempts,
			})
		},
	}

	jobs := make([]cron.Job, 0, len(builders))
	for _, build := range builders {
		job, err := build()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
