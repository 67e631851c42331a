package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
)

const prefetch = 10

// ConsumerMessage запускает чтение очереди queueName и обрабатывает не более prefetch
// сообщений одновременно. Сообщение, на котором handler вернул ошибку, возвращается
// в очередь один раз; повторная ошибка отбрасывает его.
func ConsumerMessage(ctx context.Context, ch *amqp.Channel, queueName string, log *slog.Logger, handler func([]byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sem := make(chan struct{}, prefetch)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				go func(d amqp.Delivery) {
					defer func() { <-sem }()
					handle(d, log, handler)
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func handle(d amqp.Delivery, log *slog.Logger, handler func([]byte) error) {
	if err := handler(d.Body); err != nil {
		requeue := !d.Redelivered
		log.Error("failed to handle message",
			slog.String("queue_message_id", d.MessageId),
			slog.Bool("requeue", requeue),
			sl.Err(err),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.Error("failed to ack message", sl.Err(ackErr))
	}
}
