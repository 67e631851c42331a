package rabbitmq

// QueueConfig очередь и ключ маршрутизации, которым она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Очередь событий биллинга, которую читает notification-sender.
const (
	BillingQueue      = "notifications.billing"
	BillingRoutingKey = "billing"
)

// GetNotificationQueues возвращает очереди, которые объявляют издатели и потребители.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: BillingQueue, RoutingKey: BillingRoutingKey},
	}
}
