package models

import "time"

// SubscriptionStatus статус подписки в платёжном шлюзе.
type SubscriptionStatus string

const (
	SubscriptionCreated       SubscriptionStatus = "created"
	SubscriptionAuthenticated SubscriptionStatus = "authenticated"
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionCancelled     SubscriptionStatus = "cancelled"
	SubscriptionExpired       SubscriptionStatus = "expired"
)

// Paying сообщает, что подписка подтверждает оплаченный статус сообщества.
func (s SubscriptionStatus) Paying() bool {
	return s == SubscriptionActive || s == SubscriptionAuthenticated
}

// Subscription подписка сообщества. ID совпадает с идентификатором в платёжном шлюзе.
type Subscription struct {
	ID               string
	CommunityID      string
	UserID           string
	Status           SubscriptionStatus
	CurrentEnd       *time.Time
	Suspended        bool
	SuspendedAt      *time.Time
	SuspensionReason string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
