// Package sender собирает процесс notification-sender: потребитель очереди
// событий биллинга, который пишет уведомления и отправляет письма.
package sender

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/community-billing/internal/app/infra"
	"github.com/magabrotheeeer/community-billing/internal/config"
	"github.com/magabrotheeeer/community-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/lib/smtp"
	senderservice "github.com/magabrotheeeer/community-billing/internal/services/sender"
)

// App приложение отправки уведомлений.
type App struct {
	infra  *infra.Infra
	sender *senderservice.Service
	logger *slog.Logger
}

// New подключает базу и брокер и собирает сервис отправки.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	deps, err := infra.Open(ctx, cfg, logger, infra.Options{Broker: true})
	if err != nil {
		return nil, err
	}

	transport := smtp.NewTransport(cfg.SMTP, logger)

	return &App{
		infra:  deps,
		sender: senderservice.New(deps.DB, transport, logger),
		logger: logger,
	}, nil
}

// Run читает очередь событий до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.infra.Close()

	err := rabbitmq.ConsumerMessage(ctx, a.infra.Ch, rabbitmq.BillingQueue, a.logger, func(body []byte) error {
		return a.sender.HandleMessage(ctx, body)
	})
	if err != nil {
		a.logger.Error("failed to start billing queue consumer", sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")
	return nil
}
