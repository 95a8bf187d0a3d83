package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/storehubhq/storehub-backend/api/routes"
	"github.com/storehubhq/storehub-backend/internal/features"
	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/internal/plans"
	"github.com/storehubhq/storehub-backend/internal/subscriptions"
	flutterwavewebhook "github.com/storehubhq/storehub-backend/internal/webhooks/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/config"
	"github.com/storehubhq/storehub-backend/pkg/db"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/migrate"
	"github.com/storehubhq/storehub-backend/pkg/redis"
)

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
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	planService, err := plans.NewService(plans.Params{Repo: planRepo, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.Params{Repo: ledgerRepo, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
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

	webhookService, err := flutterwavewebhook.NewService(flutterwavewebhook.ServiceParams{
		Ledger:        ledgerService,
		Subscriptions: subscriptionService,
		Gateway:       gateway,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := flutterwavewebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookEventTTL, "flutterwave")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Plans:         planService,
			Subscriptions: subscriptionService,
			Features:      featureService,
			Ledger:        ledgerService,
			Gateway:       gateway,
			WebhookSvc:    webhookService,
			WebhookGuard:  webhookGuard,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
