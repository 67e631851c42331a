package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Message сообщение для обменника уведомлений.
type Message struct {
	ID   string
	Type string
	Body any
}

// PublishMessage публикует тело сообщения в JSON как постоянное сообщение обменника
// уведомлений. ID и Type уходят в свойства amqp MessageId и Type.
func PublishMessage(ch *amqp.Channel, routingKey string, msg Message) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ch == nil {
		return fmt.Errorf("%s: channel is not open", op)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.Publish(ExchangeNotifications, routingKey, false, false, pub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
