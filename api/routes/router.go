package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lodgebook/lodgebook-backend/api/controllers"
	billingcontrollers "github.com/lodgebook/lodgebook-backend/api/controllers/billing"
	webhookcontrollers "github.com/lodgebook/lodgebook-backend/api/controllers/webhooks"
	"github.com/lodgebook/lodgebook-backend/api/middleware"
	billingsvc "github.com/lodgebook/lodgebook-backend/internal/billing"
	stripewebhook "github.com/lodgebook/lodgebook-backend/internal/webhooks/stripe"
	"github.com/lodgebook/lodgebook-backend/pkg/config"
	"github.com/lodgebook/lodgebook-backend/pkg/logger"
	"github.com/lodgebook/lodgebook-backend/pkg/metrics"
	"github.com/lodgebook/lodgebook-backend/pkg/stripe"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config          *config.Config
	Logger          *logger.Logger
	DBPinger        controllers.Pinger
	RedisPinger     controllers.Pinger
	BillingService  *billingsvc.Service
	StripeClient    *stripe.Client
	WebhookService  *stripewebhook.Service
	WebhookGuard    *stripewebhook.IdempotencyGuard
	WebhookMetrics  *metrics.WebhookMetrics
	MetricsGatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DBPinger, params.RedisPinger))
	})

	if params.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			params.WebhookService,
			params.StripeClient,
			params.WebhookGuard,
			params.WebhookMetrics,
			logg,
		))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Post("/portal", billingcontrollers.PortalSession(params.BillingService, cfg.Billing.PortalReturnURL, logg))
		r.Get("/subscriptions/{userId}", billingcontrollers.Subscription(params.BillingService, logg))
	})

	return r
}
