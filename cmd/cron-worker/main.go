package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storehubhq/storehub-backend/internal/cron"
	"github.com/storehubhq/storehub-backend/internal/features"
	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/internal/plans"
	"github.com/storehubhq/storehub-backend/internal/subscriptions"
	"github.com/storehubhq/storehub-backend/pkg/config"
	"github.com/storehubhq/storehub-backend/pkg/db"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/metrics"
	"github.com/storehubhq/storehub-backend/pkg/migrate"
	"github.com/storehubhq/storehub-backend/pkg/redis"
)

const lockKeyFormat = "sh:cron-worker:lock:%s"

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

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
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

	gateway, err := flutterwave.NewClient(context.Background(), cfg.Flutterwave, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	planRepo := plans.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())

	ledgerService, err := ledger.NewService(ledger.Params{
		Repo:   ledger.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	planService, err := plans.NewService(plans.Params{Repo: planRepo, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan service", err)
		os.Exit(1)
	}

	featureService, err := features.NewService(features.ServiceParams{
		Subscriptions: subscriptionRepo,
		Plans:         planService,
		Usage:         redisClient,
		UsageRepo:     features.NewRepository(dbClient.DB()),
		MirrorEnabled: cfg.Billing.UsageMirrorEnabled,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create feature service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptionRepo,
		PlanRepo:          planRepo,
		Ledger:            ledgerService,
		Gateway:           gateway,
		TransactionRunner: dbClient,
		Logger:            logg,
		Billing:           cfg.Billing,
		Usage:             featureService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	jobMetrics := metrics.NewBillingJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	jobParams := cron.SweepJobParams{
		Logger:        logg,
		Subscriptions: subscriptionService,
		Metrics:       jobMetrics,
	}
	// Order matters: renewals open checkouts before past-due marking, and
	// grace expiry runs after past-due so a fresh deadline is never swept.
	for _, build := range []func(cron.SweepJobParams) (cron.Job, error){
		cron.NewRenewalJob,
		cron.NewPastDueJob,
		cron.NewGraceExpiryJob,
		cron.NewCancellationJob,
		cron.NewStalePendingJob,
	} {
		job, err := build(jobParams)
		if err != nil {
			logg.Error(context.Background(), "failed to create billing job", err)
			os.Exit(1)
		}
		registry.Register(job)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting billing worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "billing worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "billing worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
