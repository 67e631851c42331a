package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

// ReminderExists проверяет, отправлялось ли напоминание с таким ключом.
func (s *Storage) ReminderExists(ctx context.Context, key models.ReminderKey) (bool, error) {
	const op = "storage.ReminderExists"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	var exists bool
	err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (
			SELECT 1 FROM reminder_records
			WHERE owner_kind = $1 AND owner_id = $2 AND period_end = $3 AND days_remaining = $4)`,
		key.OwnerKind, key.OwnerID, key.PeriodEnd, key.DaysRemaining).Scan(&exists)
	if err != nil {
		return false, mapError(op, err)
	}
	return exists, nil
}

// AddReminder добавляет отметку об отправленном напоминании.
func (s *Storage) AddReminder(ctx context.Context, rec models.ReminderRecord) error {
	const op = "storage.AddReminder"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO reminder_records (owner_kind, owner_id, period_end, days_remaining, sent_at, email_sent, in_app_sent)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.q(ctx).ExecContext(ctx, query, rec.OwnerKind, rec.OwnerID, rec.PeriodEnd, rec.DaysRemaining,
		rec.SentAt, rec.EmailSent, rec.InAppSent); err != nil {
		return mapError(op, err)
	}
	return nil
}

// ListReminders возвращает отметки о напоминаниях владельца, новые периоды первыми.
func (s *Storage) ListReminders(ctx context.Context, kind models.ReminderOwner, ownerID string) ([]models.ReminderRecord, error) {
	const op = "storage.ListReminders"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.q(ctx).QueryContext(ctx, `SELECT owner_kind, owner_id, period_end, days_remaining, sent_at, email_sent, in_app_sent
			  FROM reminder_records WHERE owner_kind = $1 AND owner_id = $2
			  ORDER BY period_end DESC, days_remaining DESC`, kind, ownerID)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.ReminderRecord
	for rows.Next() {
		var rec models.ReminderRecord
		if err := rows.Scan(&rec.OwnerKind, &rec.OwnerID, &rec.PeriodEnd, &rec.DaysRemaining, &rec.SentAt,
			&rec.EmailSent, &rec.InAppSent); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
