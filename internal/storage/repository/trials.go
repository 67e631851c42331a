package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

const trialColumns = `id, user_id, trial_type, community_id, start_date, end_date, status,
	cancelled_at, converted_at, origin_ip, origin_user_agent, metadata, created_at, updated_at`

// CreateTrial вставляет новую запись пробного периода. Если ID пуст, он генерируется.
// Нарушение частичного уникального индекса возвращается как ErrUniqueViolation.
func (s *Storage) CreateTrial(ctx context.Context, rec *models.TrialRecord) error {
	const op = "storage.CreateTrial"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("%s: marshal metadata: %w", op, err)
	}

	query := `INSERT INTO trial_records (id, user_id, trial_type, community_id, start_date, end_date,
			      status, origin_ip, origin_user_agent, metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			  RETURNING created_at, updated_at`
	err = s.q(ctx).QueryRowContext(ctx, query,
		rec.ID, rec.UserID, rec.TrialType, nullString(rec.CommunityID), rec.StartDate, rec.EndDate,
		rec.Status, rec.Origin.IP, rec.Origin.UserAgent, metadata,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

// FindTrialsByKey возвращает все записи для ключа (пользователь, тип, сообщество)
// от новых к старым.
func (s *Storage) FindTrialsByKey(ctx context.Context, key models.TrialKey) ([]*models.TrialRecord, error) {
	const op = "storage.FindTrialsByKey"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + trialColumns + `
			  FROM trial_records
			  WHERE user_id = $1 AND trial_type = $2
			    AND COALESCE(community_id, '') = COALESCE($3, '')
			  ORDER BY created_at DESC`
	rows, err := s.q(ctx).QueryContext(ctx, query, key.UserID, key.TrialType, nullString(key.CommunityID))
	if err != nil {
		return nil, mapError(op, err)
	}
	return scanTrials(op, rows)
}

// FindExpiredActiveTrials возвращает активные записи, срок которых истёк к моменту now.
func (s *Storage) FindExpiredActiveTrials(ctx context.Context, now time.Time) ([]*models.TrialRecord, error) {
	const op = "storage.FindExpiredActiveTrials"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + trialColumns + `
			  FROM trial_records
			  WHERE status = 'active' AND end_date < $1
			  ORDER BY end_date`
	rows, err := s.q(ctx).QueryContext(ctx, query, now)
	if err != nil {
		return nil, mapError(op, err)
	}
	return scanTrials(op, rows)
}

// FindActiveTrialsEndingBetween возвращает активные записи с датой окончания в [from, to].
func (s *Storage) FindActiveTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.TrialRecord, error) {
	const op = "storage.FindActiveTrialsEndingBetween"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + trialColumns + `
			  FROM trial_records
			  WHERE status = 'active' AND end_date BETWEEN $1 AND $2
			  ORDER BY end_date`
	rows, err := s.q(ctx).QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, mapError(op, err)
	}
	return scanTrials(op, rows)
}

// FindCommunityTrial возвращает последнюю запись пробного периода сообщества
// в одном из указанных статусов.
func (s *Storage) FindCommunityTrial(ctx context.Context, communityID string, statuses ...models.TrialStatus) (*models.TrialRecord, error) {
	const op = "storage.FindCommunityTrial"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	query := `SELECT ` + trialColumns + `
			  FROM trial_records
			  WHERE community_id = $1 AND trial_type = 'community' AND status = ANY($2)
			  ORDER BY created_at DESC
			  LIMIT 1`
	rows, err := s.q(ctx).QueryContext(ctx, query, communityID, names)
	if err != nil {
		return nil, mapError(op, err)
	}
	recs, err := scanTrials(op, rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return recs[0], nil
}

// UpdateTrialStatus меняет статус записи и проставляет соответствующую отметку времени.
func (s *Storage) UpdateTrialStatus(ctx context.Context, id string, status models.TrialStatus, at time.Time) error {
	const op = "storage.UpdateTrialStatus"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE trial_records
			  SET status = $1,
			      cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2 ELSE cancelled_at END,
			      converted_at = CASE WHEN $1 = 'converted' THEN $2 ELSE converted_at END,
			      updated_at = $2
			  WHERE id = $3`
	res, err := s.q(ctx).ExecContext(ctx, query, status, at, id)
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ExpireTrial переводит запись в expired, только если она ещё активна.
// Возвращает false, если запись уже сменила статус.
func (s *Storage) ExpireTrial(ctx context.Context, id string, at time.Time) (bool, error) {
	const op = "storage.ExpireTrial"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE trial_records
			  SET status = 'expired', updated_at = $1
			  WHERE id = $2 AND status = 'active'`
	res, err := s.q(ctx).ExecContext(ctx, query, at, id)
	if err != nil {
		return false, mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

func scanTrials(op string, rows *sql.Rows) ([]*models.TrialRecord, error) {
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.TrialRecord
	for rows.Next() {
		var (
			rec         models.TrialRecord
			communityID sql.NullString
			cancelledAt sql.NullTime
			convertedAt sql.NullTime
			metadata    []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.TrialType, &communityID, &rec.StartDate, &rec.EndDate,
			&rec.Status, &cancelledAt, &convertedAt, &rec.Origin.IP, &rec.Origin.UserAgent, &metadata,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		rec.CommunityID = stringPtr(communityID)
		rec.CancelledAt = timePtr(cancelledAt)
		rec.ConvertedAt = timePtr(convertedAt)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("%s: unmarshal metadata: %w", op, err)
			}
		}
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
