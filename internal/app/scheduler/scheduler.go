// Package scheduler собирает процесс планировщика пакетных задач биллинга.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/community-billing/internal/app/infra"
	"github.com/magabrotheeeer/community-billing/internal/config"
	"github.com/magabrotheeeer/community-billing/internal/lib/lock"
	schedulerservice "github.com/magabrotheeeer/community-billing/internal/services/scheduler"
)

// App представляет приложение планировщика.
type App struct {
	scheduler *schedulerservice.Service
	infra     *infra.Infra
	logger    *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, err := infra.Open(ctx, cfg, logger, infra.Options{Broker: true, Cache: true})
	if err != nil {
		return nil, err
	}

	b := deps.Billing(cfg)
	svc := schedulerservice.New(
		b.Expirations,
		b.Reminders,
		lock.New(deps.Cache.Db),
		cfg.LockTTL,
		cfg.Scheduler.Interval,
		logger,
	)

	return &App{
		scheduler: svc,
		infra:     deps,
		logger:    logger,
	}, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.infra.Close()

	a.scheduler.Start(ctx)
	a.logger.Info("shutting down scheduler service")
	return nil
}
