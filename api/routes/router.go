package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storehubhq/storehub-backend/api/controllers"
	billingcontrollers "github.com/storehubhq/storehub-backend/api/controllers/billing"
	featurecontrollers "github.com/storehubhq/storehub-backend/api/controllers/features"
	plancontrollers "github.com/storehubhq/storehub-backend/api/controllers/plans"
	subscriptioncontrollers "github.com/storehubhq/storehub-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/storehubhq/storehub-backend/api/controllers/webhooks"
	"github.com/storehubhq/storehub-backend/api/middleware"
	"github.com/storehubhq/storehub-backend/internal/features"
	"github.com/storehubhq/storehub-backend/internal/ledger"
	"github.com/storehubhq/storehub-backend/internal/plans"
	"github.com/storehubhq/storehub-backend/internal/subscriptions"
	flutterwavewebhook "github.com/storehubhq/storehub-backend/internal/webhooks/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/config"
	"github.com/storehubhq/storehub-backend/pkg/db"
	"github.com/storehubhq/storehub-backend/pkg/enums"
	"github.com/storehubhq/storehub-backend/pkg/flutterwave"
	"github.com/storehubhq/storehub-backend/pkg/logger"
	"github.com/storehubhq/storehub-backend/pkg/redis"
)

type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	Plans         plans.Service
	Subscriptions subscriptions.Service
	Features      features.Service
	Ledger        ledger.Service
	Gateway       *flutterwave.Client
	WebhookSvc    *flutterwavewebhook.Service
	WebhookGuard  *flutterwavewebhook.IdempotencyGuard
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	// Signature-gated, no bearer auth.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/flutterwave", webhookcontrollers.FlutterwaveWebhook(p.WebhookSvc, p.Gateway, p.WebhookGuard, logg))
	})

	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Get("/", plancontrollers.ListPlans(p.Plans, logg))
		r.Get("/{planId}", plancontrollers.GetPlan(p.Plans, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Redis, logg))

		r.Route("/v1/subscriptions", func(r chi.Router) {
			r.Post("/", subscriptioncontrollers.SubscriptionCreate(p.Subscriptions, logg))
			r.Get("/", subscriptioncontrollers.SubscriptionFetch(p.Subscriptions, logg))
			r.Post("/change-plan", subscriptioncontrollers.SubscriptionChangePlan(p.Subscriptions, logg))
			r.Post("/cancel", subscriptioncontrollers.SubscriptionCancel(p.Subscriptions, logg))
			r.Get("/verify", subscriptioncontrollers.SubscriptionVerify(p.Subscriptions, logg))
		})

		r.Route("/v1/features", func(r chi.Router) {
			r.Get("/{feature}/access", featurecontrollers.FeatureAccess(p.Features, logg))
			r.Post("/{feature}/usage", featurecontrollers.TrackUsage(p.Features, logg))
		})

		r.Route("/v1/billing", func(r chi.Router) {
			r.Get("/transactions", billingcontrollers.TransactionHistory(p.Ledger, logg))
		})

		r.Route("/admin/v1/plans", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.MemberRoleAdmin), logg))
			r.Put("/{planId}", plancontrollers.AdminUpsertPlan(p.Plans, logg))
			r.Delete("/{planId}", plancontrollers.AdminArchivePlan(p.Plans, logg))
		})
	})

	return r
}
