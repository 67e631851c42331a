// Package expiration переводит истёкшие пробные периоды в expired и приостанавливает
// сообщества, которые не перешли на оплату.
package expiration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

// ErrScanFailed не удалось получить список истёкших пробных периодов.
var ErrScanFailed = errors.New("could not load expired trials")

// Repository хранилище, с которым работает сервис.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindExpiredActiveTrials(ctx context.Context, now time.Time) ([]*models.TrialRecord, error)
	ExpireTrial(ctx context.Context, id string, at time.Time) (bool, error)
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	SaveCommunityBilling(ctx context.Context, c *models.Community) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUserBilling(ctx context.Context, u *models.User) error
}

// AccessCache сбрасывает закешированное состояние доступа к сообществу.
type AccessCache interface {
	Forget(ctx context.Context, communityID string)
}

// Result итог одного прохода.
type Result struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

// Service сканер истёкших пробных периодов.
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

// WithAccessCache включает сброс кеша доступа после приостановки.
func WithAccessCache(c AccessCache) Option {
	return func(s *Service) { s.access = c }
}

// New создаёт сканер.
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

// ProcessExpiredTrials обрабатывает все активные пробные периоды с endDate < now.
// Каждая запись обрабатывается в своей транзакции; ошибка одной записи
// учитывается в Errors и не прерывает проход. Повторный запуск ничего не меняет.
func (s *Service) ProcessExpiredTrials(ctx context.Context) (Result, error) {
	log := s.log.With(sl.Op("expiration.ProcessExpiredTrials"))
	now := s.now()

	trials, err := s.repo.FindExpiredActiveTrials(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	res := Result{Total: len(trials)}
	for _, rec := range trials {
		if err := ctx.Err(); err != nil {
			log.Warn("expiration scan interrupted", slog.Int("processed", res.Processed), sl.Err(err))
			return res, err
		}
		expired, err := s.expire(ctx, rec, now)
		if err != nil {
			res.Errors++
			metrics.BatchErrors.WithLabelValues(metrics.JobExpireTrials).Inc()
			log.Error("failed to expire trial", slog.String("trial_id", rec.ID), sl.Err(err))
			continue
		}
		if !expired {
			continue
		}
		res.Processed++
		metrics.TrialExpirations.WithLabelValues(string(rec.TrialType)).Inc()
	}

	log.Info("expiration scan finished",
		slog.Int("total", res.Total),
		slog.Int("processed", res.Processed),
		slog.Int("errors", res.Errors),
	)
	return res, nil
}

// expire переводит одну запись. Возвращает false, если запись перестала быть
// активной после выборки (оплата или отмена), тогда состояние не меняется.
func (s *Service) expire(ctx context.Context, rec *models.TrialRecord, now time.Time) (bool, error) {
	log := s.log.With(slog.String("trial_id", rec.ID), slog.String("user_id", rec.UserID))

	var expired, suspended bool
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.repo.ExpireTrial(ctx, rec.ID, now)
		if err != nil || !expired {
			return err
		}
		if rec.TrialType == models.TrialTypeCommunity && rec.CommunityID != nil {
			suspended, err = s.expireCommunity(ctx, log, *rec.CommunityID, now)
			return err
		}
		return s.expireUser(ctx, log, rec)
	})
	if err != nil {
		return false, err
	}
	if !expired {
		log.Info("trial changed status since scan, skipping")
		return false, nil
	}

	if suspended {
		s.forgetAccess(ctx, *rec.CommunityID)
	}

	e := events.New(events.TrialExpired, rec.UserID, now)
	end := rec.EndDate
	e.TrialEndDate = &end
	e.Title = "Your free trial has ended"
	e.LinkURL = s.appBaseURL + "/billing"
	e.Message = "Your free trial has ended. Subscribe to keep using admin features."
	if rec.CommunityID != nil {
		e.CommunityID = *rec.CommunityID
		e.LinkURL = s.appBaseURL + "/communities/" + *rec.CommunityID + "/billing"
		e.Message = "Your community trial has ended and access is suspended. Subscribe to restore it."
		if !suspended {
			e.Message = "Your community trial has ended. Your subscription keeps the community active."
		}
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Error("failed to publish trial expired event", sl.Err(err))
	}
	return true, nil
}

// expireCommunity приостанавливает сообщество, если оно не оплачено.
// Возвращает true, если сообщество было приостановлено.
func (s *Service) expireCommunity(ctx context.Context, log *slog.Logger, communityID string, now time.Time) (bool, error) {
	c, err := s.repo.GetCommunity(ctx, communityID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("community of expired trial not found", slog.String("community_id", communityID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.PaymentStatus == models.PaymentStatusPaid {
		log.Info("community already paid, skipping suspension", slog.String("community_id", communityID))
		return false, nil
	}

	c.Suspend(models.SuspensionReasonTrialExpired, now)
	c.PaymentStatus = models.PaymentStatusExpired
	c.AdminTrialInfo.Activated = false
	c.FreeTrialActivated = false
	if err := s.repo.SaveCommunityBilling(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

// expireUser возвращает пользователя в unpaid. Роль понижается, только если её
// повысил этот пробный период.
func (s *Service) expireUser(ctx context.Context, log *slog.Logger, rec *models.TrialRecord) error {
	u, err := s.repo.GetUser(ctx, rec.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("user of expired trial not found")
		return nil
	}
	if err != nil {
		return err
	}
	if u.PaymentSettings.SubscriptionStatus == models.UserSubscriptionActive {
		log.Info("user already subscribed, keeping role")
		return nil
	}

	u.PaymentSettings.SubscriptionStatus = models.UserSubscriptionUnpaid
	u.PaymentSettings.SubscriptionEndDate = nil
	if rec.RoleElevated() && u.Role == models.RoleAdmin {
		u.Role = models.RoleUser
	}
	return s.repo.SaveUserBilling(ctx, u)
}

func (s *Service) forgetAccess(ctx context.Context, communityID string) {
	if s.access != nil {
		s.access.Forget(ctx, communityID)
	}
}
