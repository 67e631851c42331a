package models

import "time"

// PaymentStatus статус оплаты сообщества.
type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusTrial   PaymentStatus = "trial"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusExpired PaymentStatus = "expired"
)

// Причины приостановки сообщества.
const (
	SuspensionReasonTrialExpired      = "Trial expired without payment"
	SuspensionReasonTrialCancelled    = "trial_cancelled"
	SuspensionReasonSubscriptionEnded = "subscription_ended"
)

// AdminTrialInfo состояние пробного периода администратора сообщества.
// Activated и Cancelled не могут быть истинны одновременно.
type AdminTrialInfo struct {
	Activated    bool       `json:"activated"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	HasUsedTrial bool       `json:"has_used_trial"`
	Cancelled    bool       `json:"cancelled"`
}

// Community сообщество с денормализованными полями биллинга.
type Community struct {
	ID                  string
	Name                string
	AdminID             string
	PaymentStatus       PaymentStatus
	AdminTrialInfo      AdminTrialInfo
	FreeTrialActivated  bool
	SubscriptionID      *string
	SubscriptionEndDate *time.Time
	Suspended           bool
	SuspendedAt         *time.Time
	SuspensionReason    string
	UpdatedAt           time.Time
}

// Suspend переводит сообщество в приостановленное состояние.
// Причина обязательна: приостановленное сообщество всегда хранит её.
func (c *Community) Suspend(reason string, at time.Time) {
	if reason == "" {
		reason = "unspecified"
	}
	c.Suspended = true
	c.SuspendedAt = &at
	c.SuspensionReason = reason
}

// Unsuspend снимает приостановку вместе с причиной и датой.
func (c *Community) Unsuspend() {
	c.Suspended = false
	c.SuspendedAt = nil
	c.SuspensionReason = ""
}

// IsAdmin сообщает, является ли пользователь администратором сообщества.
func (c *Community) IsAdmin(userID string) bool {
	return userID != "" && c.AdminID == userID
}

// AccessStatus состояние доступа к сообществу для клиентов API.
type AccessStatus struct {
	CommunityID     string        `json:"community_id"`
	Suspended       bool          `json:"suspended"`
	Reason          string        `json:"reason,omitempty"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	TrialEndDate    *time.Time    `json:"trial_end_date,omitempty"`
	// DaysRemaining полные календарные дни до конца пробного или оплаченного периода.
	DaysRemaining   *int          `json:"days_remaining,omitempty"`
	ReactivationURL string        `json:"reactivation_url,omitempty"`
}
