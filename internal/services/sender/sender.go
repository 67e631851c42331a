// Package sender превращает события биллинга в уведомления внутри приложения
// и письма владельцам.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/lib/smtp"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

// ErrSendEmail ошибка отправки письма; сообщение нужно доставить повторно.
var ErrSendEmail = errors.New("failed to send email")

// Repository операции хранилища, нужные отправителю.
type Repository interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Service обрабатывает события из очереди уведомлений.
type Service struct {
	repo      Repository
	transport smtp.Connector
	log       *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, transport smtp.Connector, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		transport: transport,
		log:       log,
	}
}

// HandleMessage сохраняет уведомление и отправляет письмо по событию из брокера.
// Повторная доставка того же события не создаёт второе уведомление.
// Нераспознанные сообщения и события неизвестных пользователей отбрасываются.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	var e events.Event
	if err := json.Unmarshal(body, &e); err != nil {
		s.log.Error("dropping malformed event", sl.Err(err))
		return nil
	}
	if e.ID == "" || e.UserID == "" {
		s.log.Error("dropping event without id or user", slog.String("type", string(e.Type)))
		return nil
	}
	log := s.log.With(slog.String("event_id", e.ID), slog.String("type", string(e.Type)))

	user, err := s.repo.GetUser(ctx, e.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("dropping event for unknown user", slog.String("user_id", e.UserID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("sender.HandleMessage: %w", err)
	}

	err = s.repo.CreateNotification(ctx, notificationFromEvent(e))
	switch {
	case errors.Is(err, repository.ErrUniqueViolation):
		log.Debug("notification already stored")
	case err != nil:
		return fmt.Errorf("sender.HandleMessage: %w", err)
	}

	if user.Email == "" {
		log.Warn("user has no email, skipping", slog.String("user_id", user.ID))
		return nil
	}
	if err := s.sendEmail([]string{user.Email}, e.Title, emailBody(user, e)); err != nil {
		return fmt.Errorf("%w: %w", ErrSendEmail, err)
	}
	log.Info("notification delivered", slog.String("user_id", user.ID))
	return nil
}

func notificationFromEvent(e events.Event) *models.Notification {
	metadata := map[string]any{}
	if e.CommunityID != "" {
		metadata["community_id"] = e.CommunityID
	}
	if e.Urgency != "" {
		metadata["urgency"] = string(e.Urgency)
	}
	if e.DaysRemaining > 0 {
		metadata["days_remaining"] = e.DaysRemaining
	}
	if e.TrialEndDate != nil {
		metadata["trial_end_date"] = e.TrialEndDate.UTC()
	}
	return &models.Notification{
		ID:       e.ID,
		UserID:   e.UserID,
		Title:    e.Title,
		Message:  e.Message,
		Type:     string(e.Type),
		LinkURL:  e.LinkURL,
		Metadata: metadata,
	}
}

func emailBody(user *models.User, e events.Event) string {
	var b strings.Builder
	name := user.Name
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(&b, "Hello, %s!\n\n%s\n", name, e.Message)
	if e.LinkURL != "" {
		fmt.Fprintf(&b, "\n%s\n", e.LinkURL)
	}
	return b.String()
}

func (s *Service) sendEmail(to []string, subject, bodyText string) error {
	from := s.transport.From()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.log.Debug("smtp client close", sl.Err(err))
		}
	}()

	if err := client.Mail(from); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return err
	}
	return nil
}
