// Package suspension управляет приостановкой и возобновлением доступа к сообществу:
// отмена пробного периода администратором и восстановление доступа после оплаты.
package suspension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

var (
	// ErrCommunityNotFound сообщество не найдено.
	ErrCommunityNotFound = errors.New("community not found")
	// ErrNotCommunityAdmin действие доступно только администратору сообщества.
	ErrNotCommunityAdmin = errors.New("only the community admin can cancel the trial")
	// ErrCommunityPaid у оплаченного сообщества нет пробного периода для отмены.
	ErrCommunityPaid = errors.New("community has an active subscription")
	// ErrNoTrial сообщество никогда не начинало пробный период.
	ErrNoTrial = errors.New("community has no trial to cancel")
	// ErrSubscriptionNotFound подписка не найдена.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionNotPaying подписка не подтверждает оплату.
	ErrSubscriptionNotPaying = errors.New("subscription is not active")
	// ErrSuspension не удалось изменить состояние сообщества.
	ErrSuspension = errors.New("could not update community suspension")
)

// Repository хранилище, с которым работает сервис.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	SaveCommunityBilling(ctx context.Context, c *models.Community) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	FindCommunityTrial(ctx context.Context, communityID string, statuses ...models.TrialStatus) (*models.TrialRecord, error)
	UpdateTrialStatus(ctx context.Context, id string, status models.TrialStatus, at time.Time) error
}

// AccessCache сбрасывает закешированное состояние доступа к сообществу.
type AccessCache interface {
	Forget(ctx context.Context, communityID string)
}

// Service приостанавливает и возобновляет сообщества.
type Service struct {
	repo       Repository
	publisher  events.Publisher
	access     AccessCache
	log        *slog.Logger
	appBaseURL string
	now        func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithNow подменяет источник текущего времени.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAccessCache включает сброс кеша доступа после изменений.
func WithAccessCache(c AccessCache) Option {
	return func(s *Service) { s.access = c }
}

// New создаёт сервис приостановки.
func New(repo Repository, publisher events.Publisher, log *slog.Logger, appBaseURL string, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		publisher:  publisher,
		log:        log,
		appBaseURL: appBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suspend приостанавливает сообщество с указанной причиной.
func (s *Service) Suspend(ctx context.Context, communityID, reason string) (*models.Community, error) {
	now := s.now()
	var community *models.Community
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.getCommunity(ctx, communityID)
		if err != nil {
			return err
		}
		c.Suspend(reason, now)
		community = c
		return s.repo.SaveCommunityBilling(ctx, c)
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	s.log.Info("community suspended", slog.String("community_id", communityID), slog.String("reason", community.SuspensionReason))
	s.forget(ctx, communityID)
	return community, nil
}

// CancelTrial отменяет пробный период сообщества по запросу администратора.
// Доступ приостанавливается сразу, без льготного периода. Повторная отмена
// возвращает текущее состояние без изменений.
func (s *Service) CancelTrial(ctx context.Context, communityID, callerID string) (*models.Community, error) {
	log := s.log.With(sl.Op("suspension.CancelTrial"), slog.String("community_id", communityID))
	now := s.now()

	var (
		community *models.Community
		changed   bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.getCommunity(ctx, communityID)
		if err != nil {
			return err
		}
		if !c.IsAdmin(callerID) {
			return ErrNotCommunityAdmin
		}
		if c.PaymentStatus == models.PaymentStatusPaid {
			return ErrCommunityPaid
		}
		if !c.AdminTrialInfo.HasUsedTrial {
			return ErrNoTrial
		}
		community = c
		if c.AdminTrialInfo.Cancelled {
			return nil
		}

		c.AdminTrialInfo.Cancelled = true
		c.AdminTrialInfo.Activated = false
		c.FreeTrialActivated = false
		c.PaymentStatus = models.PaymentStatusUnpaid
		c.Suspend(models.SuspensionReasonTrialCancelled, now)
		if err := s.repo.SaveCommunityBilling(ctx, c); err != nil {
			return err
		}

		rec, err := s.repo.FindCommunityTrial(ctx, communityID, models.TrialStatusActive)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			log.Warn("no active trial record for cancelled community")
		case err != nil:
			return err
		default:
			if err := s.repo.UpdateTrialStatus(ctx, rec.ID, models.TrialStatusCancelled, now); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	if !changed {
		return community, nil
	}

	log.Info("community trial cancelled")
	s.forget(ctx, communityID)

	e := events.New(events.TrialCancelled, community.AdminID, now)
	e.CommunityID = communityID
	e.Title = "Your free trial was cancelled"
	e.Message = "Community access is suspended. Subscribe at any time to restore it."
	e.LinkURL = s.billingURL(communityID)
	s.publish(ctx, log, e)

	return community, nil
}

// ReactivateCommunity снимает приостановку с подписки и её сообщества после
// подтверждения оплаты, связывает сообщество с подпиской и переводит пробный
// период сообщества в converted.
func (s *Service) ReactivateCommunity(ctx context.Context, subscriptionID string) (*models.Community, error) {
	log := s.log.With(sl.Op("suspension.ReactivateCommunity"), slog.String("subscription_id", subscriptionID))
	now := s.now()

	var (
		community  *models.Community
		wasBlocked bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := s.repo.GetSubscription(ctx, subscriptionID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}
		if !sub.Status.Paying() {
			return fmt.Errorf("%w: status %s", ErrSubscriptionNotPaying, sub.Status)
		}

		sub.Suspended = false
		sub.SuspendedAt = nil
		sub.SuspensionReason = ""
		if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
			return err
		}

		c, err := s.getCommunity(ctx, sub.CommunityID)
		if err != nil {
			return err
		}
		wasBlocked = c.Suspended || c.PaymentStatus != models.PaymentStatusPaid
		c.Unsuspend()
		c.SubscriptionID = &sub.ID
		c.PaymentStatus = models.PaymentStatusPaid
		c.SubscriptionEndDate = sub.CurrentEnd
		c.AdminTrialInfo.Activated = false
		c.FreeTrialActivated = false
		if err := s.repo.SaveCommunityBilling(ctx, c); err != nil {
			return err
		}
		community = c

		rec, err := s.repo.FindCommunityTrial(ctx, c.ID, models.TrialStatusActive, models.TrialStatusExpired)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		return s.repo.UpdateTrialStatus(ctx, rec.ID, models.TrialStatusConverted, now)
	})
	if err != nil {
		return nil, s.wrap(err)
	}

	s.forget(ctx, community.ID)
	if !wasBlocked {
		log.Debug("subscription renewed for already active community", slog.String("community_id", community.ID))
		return community, nil
	}

	log.Info("community reactivated", slog.String("community_id", community.ID))
	e := events.New(events.CommunityReactivated, community.AdminID, now)
	e.CommunityID = community.ID
	e.Title = "Your community is active again"
	e.Message = "Payment received. Full access to your community has been restored."
	e.LinkURL = s.appBaseURL + "/communities/" + community.ID
	s.publish(ctx, log, e)

	return community, nil
}

func (s *Service) getCommunity(ctx context.Context, id string) (*models.Community, error) {
	c, err := s.repo.GetCommunity(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCommunityNotFound
	}
	return c, err
}

// wrap оставляет доменные ошибки как есть, а ошибки хранилища оборачивает в ErrSuspension.
func (s *Service) wrap(err error) error {
	for _, domain := range []error{
		ErrCommunityNotFound, ErrNotCommunityAdmin, ErrCommunityPaid, ErrNoTrial,
		ErrSubscriptionNotFound, ErrSubscriptionNotPaying,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrSuspension, err)
}

func (s *Service) forget(ctx context.Context, communityID string) {
	if s.access != nil {
		s.access.Forget(ctx, communityID)
	}
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Error("failed to publish event", slog.String("type", string(e.Type)), sl.Err(err))
	}
}

func (s *Service) billingURL(communityID string) string {
	return s.appBaseURL + "/communities/" + communityID + "/billing"
}
