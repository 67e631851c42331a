package models

import "time"

// Роли пользователя. Пробный период пользователя повышает RoleUser до RoleAdmin,
// RoleSuperAdmin никогда не понижается.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Статусы подписки пользователя.
const (
	UserSubscriptionUnpaid = "unpaid"
	UserSubscriptionTrial  = "trial"
	UserSubscriptionActive = "active"
)

// TrialHistory история пробного периода пользователя.
type TrialHistory struct {
	HasUsedTrial   bool       `json:"has_used_trial"`
	TrialStartDate *time.Time `json:"trial_start_date,omitempty"`
	TrialEndDate   *time.Time `json:"trial_end_date,omitempty"`
}

// PaymentSettings платёжные настройки пользователя.
type PaymentSettings struct {
	SubscriptionStatus  string     `json:"subscription_status"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
}

// User пользователь платформы.
type User struct {
	ID              string
	Email           string
	Name            string
	Role            string
	PaymentSettings PaymentSettings
	TrialHistory    TrialHistory
	UpdatedAt       time.Time
}
