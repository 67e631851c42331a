// Package events описывает события жизненного цикла пробных периодов и подписок,
// которые сервисы публикуют после фиксации транзакции, а notification-sender
// превращает в уведомления в приложении и письма.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type тип события.
type Type string

const (
	TrialActivated       Type = "trial.activated"
	TrialExpired         Type = "trial.expired"
	TrialCancelled       Type = "trial.cancelled"
	TrialReminder        Type = "trial.reminder"
	SubscriptionReminder Type = "subscription.reminder"
	CommunityReactivated Type = "community.reactivated"
)

// Urgency срочность напоминания.
type Urgency string

const (
	UrgencyReminder Urgency = "reminder"
	UrgencyUrgent   Urgency = "urgent"
)

// Event сообщение, которое уходит в брокер.
type Event struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	UserID        string     `json:"user_id"`
	CommunityID   string     `json:"community_id,omitempty"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Urgency       Urgency    `json:"urgency,omitempty"`
	DaysRemaining int        `json:"days_remaining,omitempty"`
	TrialEndDate  *time.Time `json:"trial_end_date,omitempty"`
	LinkURL       string     `json:"link_url,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// New создаёт событие с новым идентификатором.
func New(t Type, userID string, at time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       t,
		UserID:     userID,
		OccurredAt: at,
	}
}

// Publisher отправляет события потребителям.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
