package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/community-billing/internal/lib/rabbitmq"
)

// RabbitPublisher публикует события в обменник уведомлений.
type RabbitPublisher struct {
	mu  sync.Mutex
	ch  *amqp.Channel
	log *slog.Logger
}

// NewRabbitPublisher создаёт издателя поверх открытого канала.
func NewRabbitPublisher(ch *amqp.Channel, log *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, log: log}
}

// Publish отправляет событие с ключом маршрутизации очереди биллинга.
// Канал amqp не потокобезопасен, поэтому публикации сериализуются.
func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	const op = "events.Publish"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := rabbitmq.PublishMessage(p.ch, rabbitmq.BillingRoutingKey, rabbitmq.Message{
		ID:   e.ID,
		Type: string(e.Type),
		Body: e,
	}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.log.Debug("event published", slog.String("event_id", e.ID), slog.String("type", string(e.Type)))
	return nil
}
