package repository

import (
	"context"
	"database/sql"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

// GetUser возвращает пользователя вместе с платёжными настройками и историей пробного периода.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.GetUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, email, name, role, subscription_status, subscription_end_date,
			      trial_has_used, trial_start_date, trial_end_date, updated_at
			  FROM users WHERE id = $1`

	var (
		u          models.User
		subEnd     sql.NullTime
		trialStart sql.NullTime
		trialEnd   sql.NullTime
	)
	err := s.q(ctx).QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.Role,
		&u.PaymentSettings.SubscriptionStatus, &subEnd, &u.TrialHistory.HasUsedTrial,
		&trialStart, &trialEnd, &u.UpdatedAt)
	if err != nil {
		return nil, mapError(op, err)
	}
	u.PaymentSettings.SubscriptionEndDate = timePtr(subEnd)
	u.TrialHistory.TrialStartDate = timePtr(trialStart)
	u.TrialHistory.TrialEndDate = timePtr(trialEnd)
	return &u, nil
}

// SaveUserBilling сохраняет роль, платёжные настройки и историю пробного периода.
func (s *Storage) SaveUserBilling(ctx context.Context, u *models.User) error {
	const op = "storage.SaveUserBilling"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE users
			  SET role = $1, subscription_status = $2, subscription_end_date = $3,
			      trial_has_used = $4, trial_start_date = $5, trial_end_date = $6, updated_at = NOW()
			  WHERE id = $7
			  RETURNING updated_at`
	err := s.q(ctx).QueryRowContext(ctx, query, u.Role, u.PaymentSettings.SubscriptionStatus,
		nullTime(u.PaymentSettings.SubscriptionEndDate), u.TrialHistory.HasUsedTrial,
		nullTime(u.TrialHistory.TrialStartDate), nullTime(u.TrialHistory.TrialEndDate), u.ID).Scan(&u.UpdatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}
