// Package access отдаёт состояние доступа к сообществу для клиентов API
// и кеширует его в Redis.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/cache"
	"github.com/magabrotheeeer/community-billing/internal/lib/period"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

// ErrCommunityNotFound сообщество не найдено.
var ErrCommunityNotFound = errors.New("community not found")

const defaultTTL = time.Minute

// Repository источник состояния сообществ.
type Repository interface {
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Service собирает AccessStatus и держит его в кеше.
type Service struct {
	repo       Repository
	cache      Cache
	log        *slog.Logger
	appBaseURL string
	ttl        time.Duration
	now        func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithNow подменяет источник текущего времени.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New создаёт сервис. cache может быть nil, тогда состояние всегда читается из хранилища.
func New(repo Repository, cache Cache, log *slog.Logger, appBaseURL string, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		cache:      cache,
		log:        log,
		appBaseURL: appBaseURL,
		ttl:        defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status возвращает состояние доступа к сообществу.
func (s *Service) Status(ctx context.Context, communityID string) (*models.AccessStatus, error) {
	const op = "access.Status"
	key := cache.AccessKey(communityID)

	if s.cache != nil {
		var cached models.AccessStatus
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("failed to read access status from cache", sl.Op(op), sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	c, err := s.repo.GetCommunity(ctx, communityID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCommunityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	status := s.build(c)
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, status, s.ttl); err != nil {
			s.log.Warn("failed to cache access status", sl.Op(op), sl.Err(err))
		}
	}
	return status, nil
}

// Forget сбрасывает кеш после изменения состояния сообщества.
func (s *Service) Forget(ctx context.Context, communityID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.AccessKey(communityID)); err != nil {
		s.log.Warn("failed to invalidate access status",
			slog.String("community_id", communityID), sl.Err(err))
	}
}

func (s *Service) build(c *models.Community) *models.AccessStatus {
	status := &models.AccessStatus{
		CommunityID:   c.ID,
		Suspended:     c.Suspended,
		Reason:        c.SuspensionReason,
		PaymentStatus: c.PaymentStatus,
		TrialEndDate:  c.AdminTrialInfo.EndDate,
	}
	if c.Suspended {
		status.ReactivationURL = ReactivationURL(s.appBaseURL, c.ID)
		return status
	}

	var end *time.Time
	switch c.PaymentStatus {
	case models.PaymentStatusTrial:
		end = c.AdminTrialInfo.EndDate
	case models.PaymentStatusPaid:
		end = c.SubscriptionEndDate
	}
	if end != nil && period.ValidDate(end) {
		days := max(period.DaysUntil(s.now(), *end), 0)
		status.DaysRemaining = &days
	}
	return status
}

// ReactivationURL адрес страницы оплаты сообщества.
func ReactivationURL(appBaseURL, communityID string) string {
	return appBaseURL + "/communities/" + communityID + "/billing"
}
