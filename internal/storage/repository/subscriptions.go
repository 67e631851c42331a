package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

const subscriptionColumns = `id, community_id, user_id, status, current_end, suspended, suspended_at,
	suspension_reason, created_at, updated_at`

// GetSubscription возвращает подписку по идентификатору платёжного шлюза.
func (s *Storage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(op, err)
	}
	subs, err := scanSubscriptions(op, rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return subs[0], nil
}

// FindPayingSubscription ищет подписку сообщества в статусе active или authenticated.
func (s *Storage) FindPayingSubscription(ctx context.Context, communityID string) (*models.Subscription, error) {
	const op = "storage.FindPayingSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE community_id = $1 AND status IN ('active', 'authenticated')
			  ORDER BY current_end DESC NULLS LAST
			  LIMIT 1`
	rows, err := s.q(ctx).QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, mapError(op, err)
	}
	subs, err := scanSubscriptions(op, rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return subs[0], nil
}

// FindPayingSubscriptionsEndingBetween возвращает оплачиваемые подписки с окончанием периода в [from, to].
func (s *Storage) FindPayingSubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.Subscription, error) {
	const op = "storage.FindPayingSubscriptionsEndingBetween"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status IN ('active', 'authenticated') AND current_end BETWEEN $1 AND $2
			  ORDER BY current_end`
	rows, err := s.q(ctx).QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, mapError(op, err)
	}
	return scanSubscriptions(op, rows)
}

// UpsertSubscription создаёт или обновляет подписку.
func (s *Storage) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.UpsertSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO subscriptions (id, community_id, user_id, status, current_end, suspended,
			      suspended_at, suspension_reason)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (id) DO UPDATE
			  SET status = EXCLUDED.status, current_end = EXCLUDED.current_end,
			      suspended = EXCLUDED.suspended, suspended_at = EXCLUDED.suspended_at,
			      suspension_reason = EXCLUDED.suspension_reason, updated_at = NOW()
			  RETURNING created_at, updated_at`
	err := s.q(ctx).QueryRowContext(ctx, query, sub.ID, sub.CommunityID, sub.UserID, sub.Status,
		nullTime(sub.CurrentEnd), sub.Suspended, nullTime(sub.SuspendedAt), sub.SuspensionReason,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

func scanSubscriptions(op string, rows *sql.Rows) ([]*models.Subscription, error) {
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		var (
			sub         models.Subscription
			currentEnd  sql.NullTime
			suspendedAt sql.NullTime
		)
		if err := rows.Scan(&sub.ID, &sub.CommunityID, &sub.UserID, &sub.Status, &currentEnd, &sub.Suspended,
			&suspendedAt, &sub.SuspensionReason, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sub.CurrentEnd = timePtr(currentEnd)
		sub.SuspendedAt = timePtr(suspendedAt)
		result = append(result, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
