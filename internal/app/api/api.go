// Package api собирает HTTP API пробных периодов и доступа к сообществам.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/community-billing/internal/app/infra"
	"github.com/magabrotheeeer/community-billing/internal/config"
	"github.com/magabrotheeeer/community-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/community-billing/internal/lib/jwt"
)

const (
	shutdownTimeout = 15 * time.Second
	requestsPerSec  = 20
	requestsBurst   = 40
)

// App HTTP-сервер API.
type App struct {
	server *http.Server
	logger *slog.Logger
	infra  *infra.Infra
}

// New подключает зависимости, применяет миграции и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, err := infra.Open(ctx, cfg, logger, infra.Options{RunMigrations: true, Broker: true, Cache: true})
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	RegisterRoutes(router, RouterDeps{
		Log:           logger,
		Billing:       deps.Billing(cfg),
		Tokens:        jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		WebhookSecret: cfg.WebhookSecret,
		Limiter:       rate.NewLimiter(requestsPerSec, requestsBurst),
		Checkers: map[string]health.Checker{
			"postgres": deps.DB,
			"redis":    deps.Cache,
		},
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		infra:  deps,
	}, nil
}

// Run обслуживает запросы до отмены ctx и затем корректно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	defer a.infra.Close()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}
