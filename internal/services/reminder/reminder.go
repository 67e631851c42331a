// Package reminder рассылает напоминания о скором окончании пробных периодов
// и оплаченных подписок.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/lib/period"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

// DefaultOffsets за сколько дней до окончания отправляются напоминания.
var DefaultOffsets = []int{7, 3, 2, 1}

// ErrUnknownOwner тип владельца напоминаний не поддерживается.
var ErrUnknownOwner = errors.New("unknown reminder owner kind")

// DefaultUrgentThreshold напоминания за это число дней и меньше помечаются как срочные.
const DefaultUrgentThreshold = 2

// Repository хранилище, с которым работает сервис.
type Repository interface {
	FindActiveTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.TrialRecord, error)
	FindPayingSubscriptionsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.Subscription, error)
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	ReminderExists(ctx context.Context, key models.ReminderKey) (bool, error)
	AddReminder(ctx context.Context, rec models.ReminderRecord) error
	ListReminders(ctx context.Context, kind models.ReminderOwner, ownerID string) ([]models.ReminderRecord, error)
}

// Result итог одного прохода.
type Result struct {
	Checked   int `json:"checked"`
	Reminders int `json:"reminders"`
	Errors    int `json:"errors"`
}

// Service рассылка напоминаний.
type Service struct {
	repo       Repository
	publisher  events.Publisher
	log        *slog.Logger
	offsets    []int
	urgent     int
	appBaseURL string
	now        func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithNow подменяет источник текущего времени.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New создаёт сервис. Пустой offsets заменяется на DefaultOffsets.
func New(repo Repository, publisher events.Publisher, log *slog.Logger, offsets []int, urgentThreshold int, appBaseURL string, opts ...Option) *Service {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	if urgentThreshold <= 0 {
		urgentThreshold = DefaultUrgentThreshold
	}
	s := &Service{
		repo:       repo,
		publisher:  publisher,
		log:        log,
		offsets:    offsets,
		urgent:     urgentThreshold,
		appBaseURL: appBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAndSendTrialReminders для каждого смещения d ищет пробные периоды и подписки,
// которые заканчиваются в календарный день now+d, и отправляет по одному
// напоминанию на тройку (владелец, день окончания, d).
func (s *Service) CheckAndSendTrialReminders(ctx context.Context) (Result, error) {
	log := s.log.With(sl.Op("reminder.CheckAndSendTrialReminders"))
	now := s.now()
	var res Result

	for _, days := range s.offsets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		from, to := period.DayWindow(now, days)
		due, err := s.collect(ctx, from, to)
		if err != nil {
			res.Errors++
			metrics.BatchErrors.WithLabelValues(metrics.JobSendReminders).Inc()
			log.Error("failed to load expiring owners", slog.Int("days", days), sl.Err(err))
			continue
		}

		for _, item := range due {
			res.Checked++
			sent, err := s.remind(ctx, item, days, now)
			if err != nil {
				res.Errors++
				metrics.BatchErrors.WithLabelValues(metrics.JobSendReminders).Inc()
				log.Error("failed to send reminder",
					slog.String("owner", string(item.OwnerKind)),
					slog.String("owner_id", item.OwnerID),
					slog.Int("days", days),
					sl.Err(err),
				)
				continue
			}
			if sent {
				res.Reminders++
				metrics.RemindersSent.WithLabelValues(string(item.OwnerKind), strconv.Itoa(days)).Inc()
			}
		}
	}

	log.Info("reminder run finished",
		slog.Int("checked", res.Checked),
		slog.Int("reminders", res.Reminders),
		slog.Int("errors", res.Errors),
	)
	return res, nil
}

// History возвращает отправленные владельцу напоминания, последние периоды первыми.
func (s *Service) History(ctx context.Context, kind models.ReminderOwner, ownerID string) ([]models.ReminderRecord, error) {
	const op = "reminder.History"
	if kind != models.ReminderOwnerTrial && kind != models.ReminderOwnerSubscription {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownOwner, kind)
	}
	recs, err := s.repo.ListReminders(ctx, kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

func (s *Service) collect(ctx context.Context, from, to time.Time) ([]models.Expiring, error) {
	trials, err := s.repo.FindActiveTrialsEndingBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("trials: %w", err)
	}
	subs, err := s.repo.FindPayingSubscriptionsEndingBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}

	out := make([]models.Expiring, 0, len(trials)+len(subs))
	for _, t := range trials {
		out = append(out, models.Expiring{
			OwnerKind:   models.ReminderOwnerTrial,
			OwnerID:     t.ID,
			UserID:      t.UserID,
			CommunityID: t.CommunityID,
			TrialType:   t.TrialType,
			EndDate:     t.EndDate,
		})
	}
	for _, sub := range subs {
		communityID := sub.CommunityID
		out = append(out, models.Expiring{
			OwnerKind:   models.ReminderOwnerSubscription,
			OwnerID:     sub.ID,
			UserID:      sub.UserID,
			CommunityID: &communityID,
			EndDate:     *sub.CurrentEnd,
		})
	}
	return out, nil
}

// remind отправляет напоминание, если его ещё не было. Возвращает true, если отправлено.
func (s *Service) remind(ctx context.Context, item models.Expiring, days int, now time.Time) (bool, error) {
	periodEnd, _ := period.DayWindow(item.EndDate.UTC(), 0)
	key := models.ReminderKey{
		OwnerKind:     item.OwnerKind,
		OwnerID:       item.OwnerID,
		PeriodEnd:     periodEnd,
		DaysRemaining: days,
	}
	exists, err := s.repo.ReminderExists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	recipient := item.UserID
	if recipient == "" && item.CommunityID != nil {
		c, err := s.repo.GetCommunity(ctx, *item.CommunityID)
		if err != nil {
			return false, fmt.Errorf("resolve recipient: %w", err)
		}
		recipient = c.AdminID
	}

	if err := s.publisher.Publish(ctx, s.event(item, recipient, days, now)); err != nil {
		return false, fmt.Errorf("publish: %w", err)
	}

	err = s.repo.AddReminder(ctx, models.ReminderRecord{
		OwnerKind:     item.OwnerKind,
		OwnerID:       item.OwnerID,
		PeriodEnd:     periodEnd,
		DaysRemaining: days,
		SentAt:        now,
		EmailSent:     true,
		InAppSent:     true,
	})
	if errors.Is(err, repository.ErrUniqueViolation) {
		s.log.Warn("reminder recorded by a concurrent run",
			slog.String("owner_id", item.OwnerID), slog.Int("days", days))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) event(item models.Expiring, recipient string, days int, now time.Time) events.Event {
	kind := events.TrialReminder
	what := "free trial"
	if item.OwnerKind == models.ReminderOwnerSubscription {
		kind = events.SubscriptionReminder
		what = "subscription"
	}

	e := events.New(kind, recipient, now)
	e.DaysRemaining = days
	e.Urgency = events.UrgencyReminder
	if days <= s.urgent {
		e.Urgency = events.UrgencyUrgent
	}
	end := item.EndDate
	e.TrialEndDate = &end
	e.Title = fmt.Sprintf("Your %s ends in %s", what, dayWord(days))
	e.Message = fmt.Sprintf("Your %s ends on %s. Subscribe to keep uninterrupted access.",
		what, end.Format("January 2, 2006"))
	e.LinkURL = s.appBaseURL + "/billing"
	if item.CommunityID != nil {
		e.CommunityID = *item.CommunityID
		e.LinkURL = s.appBaseURL + "/communities/" + *item.CommunityID + "/billing"
	}
	return e
}

func dayWord(days int) string {
	if days == 1 {
		return "1 day"
	}
	return strconv.Itoa(days) + " days"
}
