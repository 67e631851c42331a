// Package infra открывает внешние зависимости бинарников: PostgreSQL, Redis
// и RabbitMQ, и собирает поверх них сервисы биллинга.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/community-billing/internal/billing"
	"github.com/magabrotheeeer/community-billing/internal/cache"
	"github.com/magabrotheeeer/community-billing/internal/config"
	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/migrations"
	"github.com/magabrotheeeer/community-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// Options что открывать помимо базы.
type Options struct {
	RunMigrations bool
	Broker        bool
	Cache         bool
}

// Infra открытые соединения.
type Infra struct {
	DB        *repository.Storage
	Cache     *cache.Cache
	Conn      *amqp.Connection
	Ch        *amqp.Channel
	Publisher events.Publisher
	log       *slog.Logger
}

// Open подключается к зависимостям. При ошибке уже открытые соединения закрываются.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*Infra, error) {
	i := &Infra{log: log}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	i.DB = db

	if opts.RunMigrations {
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			i.Close()
			return nil, err
		}
	} else if err := waitForDB(ctx, db); err != nil {
		i.Close()
		return nil, err
	}

	if opts.Cache {
		c, err := cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			i.Close()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		i.Cache = c
	}

	if opts.Broker {
		conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			i.Close()
			return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		i.Conn = conn
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
		if err != nil {
			i.Close()
			return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		i.Ch = ch
	}
	i.Publisher = newPublisher(i.Ch, log)

	return i, nil
}

// newPublisher публикует в RabbitMQ, а без канала только запоминает события.
func newPublisher(ch *amqp.Channel, log *slog.Logger) events.Publisher {
	if ch == nil {
		return &events.Recorder{}
	}
	return events.NewRabbitPublisher(ch, log)
}

// Billing собирает сервисы биллинга поверх открытых соединений.
func (i *Infra) Billing(cfg *config.Config) *billing.Billing {
	deps := billing.Deps{
		Store:     i.DB,
		Publisher: i.Publisher,
		Gateway:   paymentprovider.NewClient(cfg.PaymentProvider),
		Log:       i.log,
	}
	if i.Cache != nil {
		deps.Cache = i.Cache
	}
	return billing.New(deps, billing.Settings{
		TrialLength:     cfg.Trial.Length,
		ReminderOffsets: cfg.ReminderOffsets,
		UrgentThreshold: cfg.UrgentThresholdDays,
		AppBaseURL:      cfg.AppBaseURL,
	})
}

// Close закрывает всё, что было открыто.
func (i *Infra) Close() {
	if i.Ch != nil {
		if err := i.Ch.Close(); err != nil {
			i.log.Error("failed to close channel", sl.Err(err))
		}
	}
	if i.Conn != nil {
		if err := i.Conn.Close(); err != nil {
			i.log.Error("failed to close connection", sl.Err(err))
		}
	}
	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			i.log.Error("failed to close cache", sl.Err(err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			i.log.Error("failed to close storage", sl.Err(err))
		}
	}
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range dbReadyAttempts {
		if err = repository.CheckDatabaseReady(db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}
