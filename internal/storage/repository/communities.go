package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

// GetCommunity возвращает сообщество вместе с полями биллинга.
func (s *Storage) GetCommunity(ctx context.Context, id string) (*models.Community, error) {
	const op = "storage.GetCommunity"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, name, admin_id, payment_status, admin_trial_info, free_trial_activated,
			      subscription_id, subscription_end_date, suspended, suspended_at, suspension_reason, updated_at
			  FROM communities WHERE id = $1`

	var (
		c               models.Community
		trialInfo       []byte
		subscriptionID  sql.NullString
		subscriptionEnd sql.NullTime
		suspendedAt     sql.NullTime
	)
	err := s.q(ctx).QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.AdminID, &c.PaymentStatus, &trialInfo,
		&c.FreeTrialActivated, &subscriptionID, &subscriptionEnd, &c.Suspended, &suspendedAt,
		&c.SuspensionReason, &c.UpdatedAt)
	if err != nil {
		return nil, mapError(op, err)
	}
	if len(trialInfo) > 0 {
		if err := json.Unmarshal(trialInfo, &c.AdminTrialInfo); err != nil {
			return nil, fmt.Errorf("%s: unmarshal admin_trial_info: %w", op, err)
		}
	}
	c.SubscriptionID = stringPtr(subscriptionID)
	c.SubscriptionEndDate = timePtr(subscriptionEnd)
	c.SuspendedAt = timePtr(suspendedAt)
	return &c, nil
}

// SaveCommunityBilling сохраняет денормализованные поля биллинга сообщества.
func (s *Storage) SaveCommunityBilling(ctx context.Context, c *models.Community) error {
	const op = "storage.SaveCommunityBilling"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	trialInfo, err := json.Marshal(c.AdminTrialInfo)
	if err != nil {
		return fmt.Errorf("%s: marshal admin_trial_info: %w", op, err)
	}

	query := `UPDATE communities
			  SET payment_status = $1, admin_trial_info = $2, free_trial_activated = $3,
			      subscription_id = $4, subscription_end_date = $5, suspended = $6,
			      suspended_at = $7, suspension_reason = $8, updated_at = NOW()
			  WHERE id = $9
			  RETURNING updated_at`
	err = s.q(ctx).QueryRowContext(ctx, query, c.PaymentStatus, trialInfo, c.FreeTrialActivated,
		nullString(c.SubscriptionID), nullTime(c.SubscriptionEndDate), c.Suspended,
		nullTime(c.SuspendedAt), c.SuspensionReason, c.ID).Scan(&c.UpdatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}
