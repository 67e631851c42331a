// Package reconcile находит и исправляет противоречия в денормализованном
// состоянии оплаты сообщества.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/lib/period"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/paymentprovider"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

// Проблемы, которые находит сверка.
const (
	IssueOrphanedSubscription    = "orphaned subscription reference"
	IssuePaidWithoutSubscription = "paid without subscription"
	IssueSubscriptionNotPaying   = "subscription not active while paid"
	IssueInvalidSubscriptionEnd  = "invalid subscription end date"
	IssueCancelledAndActivated   = "trial both cancelled and activated"
	IssueInvalidTrialEnd         = "invalid trial end date"
)

var (
	// ErrCommunityNotFound сообщество не найдено.
	ErrCommunityNotFound = errors.New("community not found")
	// ErrReconcile не удалось выполнить сверку.
	ErrReconcile = errors.New("could not reconcile community")
)

// Finding найденная проблема и применённое исправление.
type Finding struct {
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

// Repository хранилище, с которым работает сервис.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCommunity(ctx context.Context, id string) (*models.Community, error)
	SaveCommunityBilling(ctx context.Context, c *models.Community) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	FindPayingSubscription(ctx context.Context, communityID string) (*models.Subscription, error)
}

// Gateway источник данных о подписке в платёжном шлюзе.
type Gateway interface {
	GetSubscription(ctx context.Context, id string) (*paymentprovider.Subscription, error)
}

// AccessCache сбрасывает закешированное состояние доступа к сообществу.
type AccessCache interface {
	Forget(ctx context.Context, communityID string)
}

// Service сверка данных сообщества.
type Service struct {
	repo    Repository
	gateway Gateway
	access  AccessCache
	log     *slog.Logger
}

// New создаёт сервис сверки. gateway может быть nil.
func New(repo Repository, gateway Gateway, access AccessCache, log *slog.Logger) *Service {
	return &Service{repo: repo, gateway: gateway, access: access, log: log}
}

// Reconcile проверяет сообщество и исправляет найденное одним сохранением.
// Правила применяются в фиксированном порядке, так что повторный запуск
// ничего не находит.
func (s *Service) Reconcile(ctx context.Context, communityID string) ([]Finding, error) {
	log := s.log.With(sl.Op("reconcile.Reconcile"), slog.String("community_id", communityID))

	var findings []Finding
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.GetCommunity(ctx, communityID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCommunityNotFound
		}
		if err != nil {
			return err
		}

		findings, err = s.check(ctx, log, c)
		if err != nil {
			return err
		}
		if len(findings) == 0 {
			return nil
		}
		return s.repo.SaveCommunityBilling(ctx, c)
	})
	if errors.Is(err, ErrCommunityNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	for _, f := range findings {
		metrics.ReconcileFixes.WithLabelValues(f.Issue).Inc()
		log.Warn("billing inconsistency fixed", slog.String("issue", f.Issue), slog.String("fix", f.Fix))
	}
	if len(findings) > 0 && s.access != nil {
		s.access.Forget(ctx, communityID)
	}
	return findings, nil
}

func (s *Service) check(ctx context.Context, log *slog.Logger, c *models.Community) ([]Finding, error) {
	var findings []Finding
	add := func(issue, fix string) {
		findings = append(findings, Finding{Issue: issue, Fix: fix})
	}

	var linked *models.Subscription
	if c.SubscriptionID != nil {
		sub, err := s.repo.GetSubscription(ctx, *c.SubscriptionID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			add(IssueOrphanedSubscription, "cleared subscription id "+*c.SubscriptionID)
			c.SubscriptionID = nil
		case err != nil:
			return nil, err
		default:
			linked = sub
		}
	}

	if c.PaymentStatus == models.PaymentStatusPaid && c.SubscriptionID == nil {
		sub, err := s.repo.FindPayingSubscription(ctx, c.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			add(IssuePaidWithoutSubscription, "set payment status to unpaid")
			c.PaymentStatus = models.PaymentStatusUnpaid
		case err != nil:
			return nil, err
		default:
			add(IssuePaidWithoutSubscription, "linked subscription "+sub.ID)
			c.SubscriptionID = &sub.ID
			if c.SubscriptionEndDate == nil && sub.CurrentEnd != nil {
				c.SubscriptionEndDate = sub.CurrentEnd
			}
			linked = sub
		}
	}

	if linked != nil && c.PaymentStatus == models.PaymentStatusPaid && !linked.Status.Paying() {
		add(IssueSubscriptionNotPaying, fmt.Sprintf("subscription is %s, set payment status to unpaid", linked.Status))
		c.PaymentStatus = models.PaymentStatusUnpaid
	}

	if c.SubscriptionEndDate != nil && !period.ValidDate(c.SubscriptionEndDate) {
		end, source, err := s.deriveEnd(ctx, c, linked)
		switch {
		case err != nil:
			// шлюз недоступен, дата остаётся до следующей сверки
			log.Warn("failed to fetch subscription from payment provider, keeping end date", sl.Err(err))
		case end == nil:
			c.SubscriptionEndDate = nil
			add(IssueInvalidSubscriptionEnd, "cleared subscription end date")
		default:
			c.SubscriptionEndDate = end
			add(IssueInvalidSubscriptionEnd, "re-derived from "+source)
		}
	}

	if c.AdminTrialInfo.Cancelled && c.AdminTrialInfo.Activated {
		add(IssueCancelledAndActivated, "set activated to false")
		c.AdminTrialInfo.Activated = false
	}

	if c.AdminTrialInfo.EndDate != nil && !period.ValidDate(c.AdminTrialInfo.EndDate) {
		add(IssueInvalidTrialEnd, "cleared trial end date")
		c.AdminTrialInfo.EndDate = nil
	}

	return findings, nil
}

// deriveEnd ищет корректную дату окончания сначала в связанной подписке,
// затем в платёжном шлюзе. nil без ошибки значит, что даты нет нигде.
func (s *Service) deriveEnd(ctx context.Context, c *models.Community, linked *models.Subscription) (*time.Time, string, error) {
	if linked != nil && linked.CurrentEnd != nil && period.ValidDate(linked.CurrentEnd) {
		return linked.CurrentEnd, "subscription record", nil
	}
	if s.gateway == nil || c.SubscriptionID == nil {
		return nil, "", nil
	}
	sub, err := s.gateway.GetSubscription(ctx, *c.SubscriptionID)
	if err != nil {
		return nil, "", err
	}
	if end := sub.CurrentEndTime(); end != nil && period.ValidDate(end) {
		return end, "payment provider", nil
	}
	return nil, "", nil
}
