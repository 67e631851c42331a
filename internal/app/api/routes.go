package api

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/community-billing/internal/billing"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/admin/reconcile"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/community/access"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/community/cancel"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/payment/webhook"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/trial/activate"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/trial/eligibility"
	"github.com/magabrotheeeer/community-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/community-billing/internal/models"
)

// RouterDeps зависимости маршрутов.
type RouterDeps struct {
	Log           *slog.Logger
	Billing       *billing.Billing
	Tokens        middlewarectx.TokenParser
	WebhookSecret string
	Limiter       *rate.Limiter
	Checkers      map[string]health.Checker
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, d RouterDeps) {
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", health.New(d.Log, d.Checkers).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Вебхук подписывается шлюзом, JWT не нужен.
		r.Post("/payments/webhook", webhook.New(d.Log, d.Billing.Payments, d.WebhookSecret).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, d.Log))
			r.Use(middlewarectx.RateLimitMiddleware(d.Limiter, d.Log))

			r.Post("/trials/eligibility", eligibility.New(d.Log, d.Billing.Trials).ServeHTTP)
			r.Post("/trials", activate.New(d.Log, d.Billing.Trials).ServeHTTP)
			r.Get("/communities/{id}/access", access.New(d.Log, d.Billing.Access).ServeHTTP)
			r.Post("/communities/{id}/trial/cancel", cancel.New(d.Log, d.Billing.Suspensions).ServeHTTP)

			r.With(middlewarectx.RequireRole(models.RoleSuperAdmin, d.Log)).
				Post("/admin/communities/{id}/reconcile", reconcile.New(d.Log, d.Billing.Reconciler).ServeHTTP)
		})
	})
}
