// Package payment применяет события платёжного шлюза к подпискам и сообществам.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/community-billing/internal/services/reconcile"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

var (
	// ErrInvalidPayload в событии нет подписки или её сообщества.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrUnsupportedEvent тип события не обрабатывается.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
)

// Repository хранилище, с которым работает сервис.
type Repository interface {
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
}

// Suspensions восстанавливает доступ к сообществу после оплаты и
// приостанавливает его, когда оплата закончилась.
type Suspensions interface {
	ReactivateCommunity(ctx context.Context, subscriptionID string) (*models.Community, error)
	Suspend(ctx context.Context, communityID, reason string) (*models.Community, error)
}

// Reconciler приводит состояние оплаты сообщества в соответствие с подписками.
type Reconciler interface {
	Reconcile(ctx context.Context, communityID string) ([]reconcile.Finding, error)
}

// Service обработчик событий шлюза.
type Service struct {
	repo        Repository
	suspensions Suspensions
	reconciler  Reconciler
	log         *slog.Logger
}

// New создаёт сервис.
func New(repo Repository, suspensions Suspensions, reconciler Reconciler, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		suspensions: suspensions,
		reconciler:  reconciler,
		log:         log,
	}
}

// HandleWebhook сохраняет состояние подписки из события. Оплата восстанавливает
// доступ к сообществу. Отмена или истечение запускает сверку, и если после неё
// сообщество не оплачено и не на пробном периоде, доступ приостанавливается.
func (s *Service) HandleWebhook(ctx context.Context, evt paymentprovider.WebhookEvent) error {
	const op = "payment.HandleWebhook"
	entity := evt.Payload.Subscription.Entity
	log := s.log.With(sl.Op(op), slog.String("event", evt.Event), slog.String("subscription_id", entity.ID))

	var status models.SubscriptionStatus
	switch evt.Event {
	case paymentprovider.EventSubscriptionActivated, paymentprovider.EventSubscriptionCharged:
		status = entity.ModelStatus()
		if !status.Paying() {
			status = models.SubscriptionActive
		}
	case paymentprovider.EventSubscriptionCancelled:
		status = models.SubscriptionCancelled
	case paymentprovider.EventSubscriptionExpired:
		status = models.SubscriptionExpired
	default:
		log.Debug("webhook event ignored")
		return fmt.Errorf("%s: %q: %w", op, evt.Event, ErrUnsupportedEvent)
	}
	if entity.ID == "" {
		return fmt.Errorf("%s: missing subscription id: %w", op, ErrInvalidPayload)
	}

	sub, err := s.merge(ctx, &entity, status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription updated", slog.String("status", string(sub.Status)), slog.String("community_id", sub.CommunityID))

	if status.Paying() {
		if _, err := s.suspensions.ReactivateCommunity(ctx, sub.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	findings, err := s.reconciler.Reconcile(ctx, sub.CommunityID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("community reconciled after subscription ended", slog.Int("findings", len(findings)))

	c, err := s.repo.GetCommunity(ctx, sub.CommunityID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.Suspended || c.PaymentStatus == models.PaymentStatusPaid || c.PaymentStatus == models.PaymentStatusTrial {
		return nil
	}
	if _, err := s.suspensions.Suspend(ctx, c.ID, models.SuspensionReasonSubscriptionEnded); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// merge собирает запись подписки из события и уже сохранённой записи.
func (s *Service) merge(ctx context.Context, entity *paymentprovider.Subscription, status models.SubscriptionStatus) (*models.Subscription, error) {
	sub := &models.Subscription{
		ID:          entity.ID,
		CommunityID: entity.CommunityID(),
		UserID:      entity.UserID(),
		Status:      status,
		CurrentEnd:  entity.CurrentEndTime(),
	}

	existing, err := s.repo.GetSubscription(ctx, entity.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if sub.CommunityID == "" {
			sub.CommunityID = existing.CommunityID
		}
		if sub.UserID == "" {
			sub.UserID = existing.UserID
		}
		if sub.CurrentEnd == nil {
			sub.CurrentEnd = existing.CurrentEnd
		}
		sub.Suspended = existing.Suspended
		sub.SuspendedAt = existing.SuspendedAt
		sub.SuspensionReason = existing.SuspensionReason
	}

	if sub.CommunityID == "" {
		return nil, fmt.Errorf("missing community id: %w", ErrInvalidPayload)
	}
	if sub.UserID == "" {
		c, err := s.repo.GetCommunity(ctx, sub.CommunityID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("unknown community %s: %w", sub.CommunityID, ErrInvalidPayload)
		}
		if err != nil {
			return nil, err
		}
		sub.UserID = c.AdminID
	}
	return sub, nil
}
