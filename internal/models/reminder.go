package models

import "time"

// ReminderOwner тип сущности, к которой относится напоминание.
type ReminderOwner string

const (
	ReminderOwnerTrial        ReminderOwner = "trial"
	ReminderOwnerSubscription ReminderOwner = "subscription"
)

// ReminderKey идентифицирует одно напоминание. PeriodEnd хранится с точностью
// до дня (UTC), поэтому продлённая подписка получает напоминания заново.
type ReminderKey struct {
	OwnerKind     ReminderOwner
	OwnerID       string
	PeriodEnd     time.Time
	DaysRemaining int
}

// ReminderRecord отметка об отправленном напоминании.
// На каждый ReminderKey допускается не более одной записи.
type ReminderRecord struct {
	OwnerKind     ReminderOwner
	OwnerID       string
	PeriodEnd     time.Time
	DaysRemaining int
	SentAt        time.Time
	EmailSent     bool
	InAppSent     bool
}

// Key возвращает ключ уникальности записи.
func (r ReminderRecord) Key() ReminderKey {
	return ReminderKey{
		OwnerKind:     r.OwnerKind,
		OwnerID:       r.OwnerID,
		PeriodEnd:     r.PeriodEnd,
		DaysRemaining: r.DaysRemaining,
	}
}

// Expiring сущность, срок которой подходит к концу; то, о чём напоминаем.
type Expiring struct {
	OwnerKind   ReminderOwner
	OwnerID     string
	UserID      string
	CommunityID *string
	TrialType   TrialType
	EndDate     time.Time
}
