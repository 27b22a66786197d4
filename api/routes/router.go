package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coachloop/coachloop-backend/api/controllers"
	billingcontrollers "github.com/coachloop/coachloop-backend/api/controllers/billing"
	webhookcontrollers "github.com/coachloop/coachloop-backend/api/controllers/webhooks"
	"github.com/coachloop/coachloop-backend/api/middleware"
	stripewebhook "github.com/coachloop/coachloop-backend/internal/webhooks/stripe"
	"github.com/coachloop/coachloop-backend/pkg/config"
	"github.com/coachloop/coachloop-backend/pkg/logger"
	"github.com/coachloop/coachloop-backend/pkg/metrics"
	"github.com/coachloop/coachloop-backend/pkg/stripe"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the HTTP surface needs wired in.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             pinger
	Redis          pinger
	StripeClient   *stripe.Client
	WebhookService webhookcontrollers.StripeWebhookService
	WebhookGuard   *stripewebhook.IdempotencyGuard
	WebhookMetrics *metrics.WebhookMetrics
	Checkout       billingcontrollers.CheckoutService
	Billing        billingcontrollers.RecordService
	Prometheus     *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Prometheus, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.WebhookService, deps.StripeClient, deps.WebhookGuard, deps.WebhookMetrics, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Post("/checkout-session", billingcontrollers.CreateCheckoutSession(deps.Checkout, logg))
		r.Post("/portal-link", billingcontrollers.PortalLink(deps.Checkout, logg))
		r.Get("/record", billingcontrollers.GetRecord(deps.Billing, logg))
	})

	return r
}
