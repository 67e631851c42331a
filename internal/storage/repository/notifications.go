package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/community-billing/internal/models"
)

// CreateNotification сохраняет уведомление внутри приложения. Повторная вставка
// с тем же ID возвращает ErrUniqueViolation.
func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) error {
	const op = "storage.CreateNotification"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(orEmpty(n.Metadata))
	if err != nil {
		return fmt.Errorf("%s: marshal metadata: %w", op, err)
	}

	query := `INSERT INTO notifications (id, user_id, title, message, type, link_url, metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING created_at`
	err = s.q(ctx).QueryRowContext(ctx, query, n.ID, n.UserID, n.Title, n.Message, n.Type,
		n.LinkURL, metadata).Scan(&n.CreatedAt)
	if err != nil {
		return mapError(op, err)
	}
	return nil
}
