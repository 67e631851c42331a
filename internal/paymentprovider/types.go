package paymentprovider

import (
	"time"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

// Subscription подписка в ответе шлюза. Даты приходят в секундах Unix.
type Subscription struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	CurrentEnd int64             `json:"current_end"`
	Notes      map[string]string `json:"notes,omitempty"`
}

// CurrentEndTime возвращает конец текущего периода или nil, если шлюз его не прислал.
func (s *Subscription) CurrentEndTime() *time.Time {
	if s.CurrentEnd <= 0 {
		return nil
	}
	t := time.Unix(s.CurrentEnd, 0).UTC()
	return &t
}

// CommunityID возвращает сообщество, указанное при создании подписки.
func (s *Subscription) CommunityID() string {
	return s.Notes["community_id"]
}

// UserID возвращает пользователя, оформившего подписку.
func (s *Subscription) UserID() string {
	return s.Notes["user_id"]
}

// ModelStatus переводит статус шлюза в статус подписки сервиса.
// Неизвестные статусы шлюза считаются созданной, но не оплаченной подпиской.
func (s *Subscription) ModelStatus() models.SubscriptionStatus {
	switch models.SubscriptionStatus(s.Status) {
	case models.SubscriptionActive, models.SubscriptionAuthenticated,
		models.SubscriptionCancelled, models.SubscriptionExpired:
		return models.SubscriptionStatus(s.Status)
	case "completed":
		return models.SubscriptionExpired
	case "halted", "paused":
		return models.SubscriptionCancelled
	default:
		return models.SubscriptionCreated
	}
}

// Типы событий вебхука, которые обрабатывает сервис.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

// WebhookEvent тело вебхука шлюза.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity Subscription `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}
