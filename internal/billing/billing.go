// Package billing собирает сервисы биллинга сообществ поверх одного хранилища.
// Бинарники и консольная утилита получают готовый набор сервисов отсюда.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/events"
	"github.com/magabrotheeeer/community-billing/internal/services/access"
	"github.com/magabrotheeeer/community-billing/internal/services/expiration"
	"github.com/magabrotheeeer/community-billing/internal/services/payment"
	"github.com/magabrotheeeer/community-billing/internal/services/reconcile"
	"github.com/magabrotheeeer/community-billing/internal/services/reminder"
	"github.com/magabrotheeeer/community-billing/internal/services/suspension"
	"github.com/magabrotheeeer/community-billing/internal/services/trial"
)

// Store хранилище со всеми операциями, нужными сервисам.
// Его реализуют repository.Storage и memory.Store.
type Store interface {
	trial.Repository
	suspension.Repository
	expiration.Repository
	reminder.Repository
	reconcile.Repository
	payment.Repository
}

// Settings правила биллинга.
type Settings struct {
	TrialLength     time.Duration
	ReminderOffsets []int
	UrgentThreshold int
	AppBaseURL      string
	// Now источник текущего времени, по умолчанию time.Now.
	Now func() time.Time
}

// Deps внешние зависимости. Cache и Gateway необязательны.
type Deps struct {
	Store     Store
	Publisher events.Publisher
	Cache     access.Cache
	Gateway   reconcile.Gateway
	Log       *slog.Logger
}

// Billing набор связанных сервисов.
type Billing struct {
	Trials      *trial.Service
	Access      *access.Service
	Suspensions *suspension.Service
	Expirations *expiration.Service
	Reminders   *reminder.Service
	Reconciler  *reconcile.Service
	Payments    *payment.Service
}

// New связывает сервисы между собой. Все сервисы сбрасывают кеш доступа
// после изменения состояния сообщества.
func New(deps Deps, settings Settings) *Billing {
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if settings.TrialLength <= 0 {
		settings.TrialLength = trial.DefaultLength
	}
	if len(settings.ReminderOffsets) == 0 {
		settings.ReminderOffsets = reminder.DefaultOffsets
	}
	if settings.UrgentThreshold <= 0 {
		settings.UrgentThreshold = reminder.DefaultUrgentThreshold
	}

	b := &Billing{}
	b.Access = access.New(deps.Store, deps.Cache, deps.Log, settings.AppBaseURL, access.WithNow(settings.Now))
	b.Trials = trial.New(deps.Store, deps.Publisher, deps.Log, settings.TrialLength, settings.AppBaseURL,
		trial.WithNow(settings.Now), trial.WithAccessCache(b.Access))
	b.Suspensions = suspension.New(deps.Store, deps.Publisher, deps.Log, settings.AppBaseURL,
		suspension.WithNow(settings.Now), suspension.WithAccessCache(b.Access))
	b.Expirations = expiration.New(deps.Store, deps.Publisher, deps.Log, settings.AppBaseURL,
		expiration.WithNow(settings.Now), expiration.WithAccessCache(b.Access))
	b.Reminders = reminder.New(deps.Store, deps.Publisher, deps.Log, settings.ReminderOffsets,
		settings.UrgentThreshold, settings.AppBaseURL, reminder.WithNow(settings.Now))

	b.Reconciler = reconcile.New(deps.Store, deps.Gateway, b.Access, deps.Log)
	b.Payments = payment.New(deps.Store, b.Suspensions, b.Reconciler, deps.Log)
	return b
}

// ReconcileAll сверяет сообщества по списку и возвращает найденное по каждому.
// Ошибка по одному сообществу не останавливает остальные.
func (b *Billing) ReconcileAll(ctx context.Context, communityIDs []string) (map[string][]reconcile.Finding, map[string]error) {
	found := make(map[string][]reconcile.Finding)
	failed := make(map[string]error)
	for _, id := range communityIDs {
		findings, err := b.Reconciler.Reconcile(ctx, id)
		if err != nil {
			failed[id] = err
			continue
		}
		if len(findings) > 0 {
			found[id] = findings
		}
	}
	return found, failed
}
