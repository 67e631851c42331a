// Package trial реализует проверку права на пробный период и его активацию.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/lib/period"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

// Причины отказа. Возвращаются клиенту как есть.
const (
	ReasonTrialUsed          = "Trial already used"
	ReasonTrialActive        = "Trial already active"
	ReasonCommunityNotFound  = "Community not found"
	ReasonNotCommunityAdmin  = "Only the community admin can start a trial"
	ReasonCommunityPaid      = "Community already has active subscription"
	ReasonCommunityUsedTrial = "Community has already used its free trial"
	ReasonUserNotFound       = "User not found"
	ReasonUserUsedTrial      = "User has already used a free trial"
	ReasonConcurrentStart    = "Trial already started by a concurrent request"
)

var (
	// ErrCheckEligibility не удалось проверить право на пробный период.
	ErrCheckEligibility = errors.New("could not check eligibility")
	// ErrActivateTrial не удалось активировать пробный период.
	ErrActivateTrial = errors.New("could not activate trial")
	// ErrInvalidTrialType неизвестный тип пробного периода.
	ErrInvalidTrialType = errors.New("invalid trial type")
	// ErrCommunityRequired для пробного периода сообщества не указано сообщество.
	ErrCommunityRequired = errors.New("community id is required for community trial")
)

// DefaultLength длительность пробного периода по умолчанию.
const DefaultLength = 14 * 24 * time.Hour

// Repository хранилище, с которым работает сервис.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindTrialsByKey(ctx context.Context, key models.TrialKey) ([]*models.TrialRecord, error)
	CreateTrial(ctx context.Context, rec *models.TrialRecord) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUserBilling(ctx context.Context, u *models.User) error
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	SaveCommunityBilling(ctx context.Context, c *models.Community) error
}

// AccessCache сбрасывает закешированное состояние доступа к сообществу.
type AccessCache interface {
	Forget(ctx context.Context, communityID string)
}

// Eligibility результат проверки права на пробный период.
type Eligibility struct {
	Eligible      bool                `json:"eligible"`
	Reason        string              `json:"reason,omitempty"`
	ExistingTrial *models.TrialRecord `json:"existing_trial,omitempty"`
}

// Request запрос на пробный период.
type Request struct {
	UserID      string
	TrialType   models.TrialType
	CommunityID *string
	Origin      models.TrialOrigin
}

// Activation результат активации. При отказе Success=false и заполнен Reason.
type Activation struct {
	Success      bool                `json:"success"`
	Reason       string              `json:"reason,omitempty"`
	TrialEndDate *time.Time          `json:"trial_end_date,omitempty"`
	Trial        *models.TrialRecord `json:"-"`
}

// Service проверяет и активирует пробные периоды.
type Service struct {
	repo       Repository
	publisher  events.Publisher
	access     AccessCache
	log        *slog.Logger
	length     time.Duration
	appBaseURL string
	now        func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithNow подменяет источник текущего времени.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAccessCache включает сброс кеша доступа после активации.
func WithAccessCache(c AccessCache) Option {
	return func(s *Service) { s.access = c }
}

// New создаёт сервис пробных периодов.
func New(repo Repository, publisher events.Publisher, log *slog.Logger, length time.Duration, appBaseURL string, opts ...Option) *Service {
	if length <= 0 {
		length = DefaultLength
	}
	s := &Service{
		repo:       repo,
		publisher:  publisher,
		log:        log,
		length:     length,
		appBaseURL: appBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckEligibility проверяет, может ли пользователь начать пробный период.
// Проверки выполняются по порядку, срабатывает первая неудачная. Ничего не изменяет.
func (s *Service) CheckEligibility(ctx context.Context, userID string, trialType models.TrialType, communityID *string) (Eligibility, error) {
	if err := validate(trialType, communityID); err != nil {
		return Eligibility{}, err
	}
	if trialType == models.TrialTypeUser {
		communityID = nil
	}
	now := s.now()
	key := models.TrialKey{UserID: userID, TrialType: trialType, CommunityID: communityID}

	records, err := s.repo.FindTrialsByKey(ctx, key)
	if err != nil {
		return Eligibility{}, fmt.Errorf("%w: %w", ErrCheckEligibility, err)
	}
	for _, rec := range records {
		if rec.IsUsed(now) {
			return Eligibility{Reason: ReasonTrialUsed, ExistingTrial: rec}, nil
		}
	}
	for _, rec := range records {
		if rec.IsLive(now) {
			return Eligibility{Reason: ReasonTrialActive, ExistingTrial: rec}, nil
		}
	}

	if trialType == models.TrialTypeCommunity {
		return s.checkCommunity(ctx, userID, *communityID)
	}
	return s.checkUser(ctx, userID)
}

func (s *Service) checkCommunity(ctx context.Context, userID, communityID string) (Eligibility, error) {
	c, err := s.repo.GetCommunity(ctx, communityID)
	if errors.Is(err, repository.ErrNotFound) {
		return Eligibility{Reason: ReasonCommunityNotFound}, nil
	}
	if err != nil {
		return Eligibility{}, fmt.Errorf("%w: %w", ErrCheckEligibility, err)
	}
	switch {
	case !c.IsAdmin(userID):
		return Eligibility{Reason: ReasonNotCommunityAdmin}, nil
	case c.PaymentStatus == models.PaymentStatusPaid:
		return Eligibility{Reason: ReasonCommunityPaid}, nil
	case c.AdminTrialInfo.HasUsedTrial:
		return Eligibility{Reason: ReasonCommunityUsedTrial}, nil
	}
	return Eligibility{Eligible: true}, nil
}

func (s *Service) checkUser(ctx context.Context, userID string) (Eligibility, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return Eligibility{Reason: ReasonUserNotFound}, nil
	}
	if err != nil {
		return Eligibility{}, fmt.Errorf("%w: %w", ErrCheckEligibility, err)
	}
	if u.TrialHistory.HasUsedTrial {
		return Eligibility{Reason: ReasonUserUsedTrial}, nil
	}
	return Eligibility{Eligible: true}, nil
}

// ActivateTrial повторно проверяет право на пробный период и, если оно есть,
// в одной транзакции создаёт запись пробного периода и обновляет состояние
// оплаты пользователя или сообщества.
func (s *Service) ActivateTrial(ctx context.Context, req Request) (Activation, error) {
	if req.TrialType == models.TrialTypeUser {
		req.CommunityID = nil
	}
	log := s.log.With(
		sl.Op("trial.ActivateTrial"),
		slog.String("user_id", req.UserID),
		slog.String("trial_type", string(req.TrialType)),
	)

	eligibility, err := s.CheckEligibility(ctx, req.UserID, req.TrialType, req.CommunityID)
	if err != nil {
		if errors.Is(err, ErrInvalidTrialType) || errors.Is(err, ErrCommunityRequired) {
			return Activation{}, err
		}
		metrics.TrialActivations.WithLabelValues(string(req.TrialType), "error").Inc()
		return Activation{}, fmt.Errorf("%w: %w", ErrActivateTrial, err)
	}
	if !eligibility.Eligible {
		log.Info("trial activation rejected", slog.String("reason", eligibility.Reason))
		metrics.TrialActivations.WithLabelValues(string(req.TrialType), "rejected").Inc()
		return Activation{Reason: eligibility.Reason}, nil
	}

	start := s.now()
	end := period.TrialEnd(start, s.length)
	rec := &models.TrialRecord{
		UserID:      req.UserID,
		TrialType:   req.TrialType,
		CommunityID: req.CommunityID,
		StartDate:   start,
		EndDate:     end,
		Status:      models.TrialStatusActive,
		Origin:      req.Origin,
		Metadata:    map[string]any{"length_days": int(s.length.Hours() / 24)},
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if req.TrialType == models.TrialTypeCommunity {
			if err := s.repo.CreateTrial(ctx, rec); err != nil {
				return err
			}
			return s.startCommunityTrial(ctx, log, *req.CommunityID, start, end)
		}
		elevated, err := s.startUserTrial(ctx, req.UserID, start, end)
		if err != nil {
			return err
		}
		rec.Metadata[models.MetaRoleElevated] = elevated
		return s.repo.CreateTrial(ctx, rec)
	})
	if errors.Is(err, repository.ErrUniqueViolation) {
		log.Warn("concurrent trial activation detected")
		metrics.TrialActivations.WithLabelValues(string(req.TrialType), "rejected").Inc()
		return Activation{Reason: ReasonConcurrentStart}, nil
	}
	if err != nil {
		log.Error("failed to activate trial", sl.Err(err))
		metrics.TrialActivations.WithLabelValues(string(req.TrialType), "error").Inc()
		return Activation{}, fmt.Errorf("%w: %w", ErrActivateTrial, err)
	}

	log.Info("trial activated", slog.String("trial_id", rec.ID), slog.Time("end_date", end))
	metrics.TrialActivations.WithLabelValues(string(req.TrialType), "success").Inc()

	if req.CommunityID != nil && s.access != nil {
		s.access.Forget(ctx, *req.CommunityID)
	}
	s.publishActivated(ctx, log, rec)

	return Activation{Success: true, TrialEndDate: &end, Trial: rec}, nil
}

func (s *Service) startCommunityTrial(ctx context.Context, log *slog.Logger, communityID string, start, end time.Time) error {
	c, err := s.repo.GetCommunity(ctx, communityID)
	if err != nil {
		return err
	}
	if c.Suspended {
		log.Warn("activating trial on suspended community",
			slog.String("community_id", c.ID),
			slog.String("suspension_reason", c.SuspensionReason),
		)
	}
	c.AdminTrialInfo = models.AdminTrialInfo{
		Activated:    true,
		StartDate:    &start,
		EndDate:      &end,
		HasUsedTrial: true,
	}
	c.PaymentStatus = models.PaymentStatusTrial
	c.SubscriptionEndDate = &end
	c.FreeTrialActivated = true
	c.Unsuspend()
	return s.repo.SaveCommunityBilling(ctx, c)
}

// startUserTrial переводит пользователя на пробный период и сообщает,
// была ли повышена его роль.
func (s *Service) startUserTrial(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	u.PaymentSettings.SubscriptionStatus = models.UserSubscriptionTrial
	u.PaymentSettings.SubscriptionEndDate = &end
	u.TrialHistory = models.TrialHistory{
		HasUsedTrial:   true,
		TrialStartDate: &start,
		TrialEndDate:   &end,
	}
	elevated := u.Role == models.RoleUser
	if elevated {
		u.Role = models.RoleAdmin
	}
	return elevated, s.repo.SaveUserBilling(ctx, u)
}

func (s *Service) publishActivated(ctx context.Context, log *slog.Logger, rec *models.TrialRecord) {
	e := events.New(events.TrialActivated, rec.UserID, s.now())
	e.Title = "Your free trial has started"
	e.Message = fmt.Sprintf("Your %d-day free trial is active until %s.",
		int(s.length.Hours()/24), rec.EndDate.Format("January 2, 2006"))
	end := rec.EndDate
	e.TrialEndDate = &end
	e.LinkURL = s.appBaseURL + "/billing"
	if rec.CommunityID != nil {
		e.CommunityID = *rec.CommunityID
		e.LinkURL = s.appBaseURL + "/communities/" + *rec.CommunityID + "/billing"
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		log.Error("failed to publish trial activated event", sl.Err(err))
	}
}

func validate(trialType models.TrialType, communityID *string) error {
	if !trialType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTrialType, trialType)
	}
	if trialType == models.TrialTypeCommunity && (communityID == nil || *communityID == "") {
		return ErrCommunityRequired
	}
	return nil
}
