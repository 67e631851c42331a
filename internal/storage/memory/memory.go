// Package memory реализует хранилище биллинга в памяти процесса с тем же набором
// методов, что и repository.Storage. Используется в тестах сервисов и HTTP API.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

type state struct {
	users         map[string]models.User
	communities   map[string]models.Community
	trials        map[string]models.TrialRecord
	subscriptions map[string]models.Subscription
	reminders     map[models.ReminderKey]models.ReminderRecord
	notifications map[string]models.Notification
}

// Store хранилище в памяти.
type Store struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	seq   int
	state state
}

type txKey struct{}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{state: state{
		users:         map[string]models.User{},
		communities:   map[string]models.Community{},
		trials:        map[string]models.TrialRecord{},
		subscriptions: map[string]models.Subscription{},
		reminders:     map[models.ReminderKey]models.ReminderRecord{},
		notifications: map[string]models.Notification{},
	}}
}

// WithinTx выполняет fn и откатывает все изменения, если fn вернула ошибку.
// Транзакции выполняются строго по одной.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// PutUser добавляет или заменяет пользователя.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// PutCommunity добавляет или заменяет сообщество.
func (s *Store) PutCommunity(c models.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.communities[c.ID] = c
}

// Trials возвращает все записи пробных периодов, отсортированные по времени создания.
func (s *Store) Trials() []*models.TrialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.TrialRecord, 0, len(s.state.trials))
	for _, t := range s.state.trials {
		rec := t
		out = append(out, &rec)
	}
	sortTrials(out)
	return out
}

// Notifications возвращает сохранённые уведомления пользователя.
func (s *Store) Notifications(userID string) []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.state.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.users[id]
	if !ok {
		return nil, fmt.Errorf("memory.GetUser: %w", repository.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) SaveUserBilling(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.users[u.ID]; !ok {
		return fmt.Errorf("memory.SaveUserBilling: %w", repository.ErrNotFound)
	}
	u.UpdatedAt = time.Now()
	s.state.users[u.ID] = *u
	return nil
}

func (s *Store) GetCommunity(_ context.Context, id string) (*models.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.communities[id]
	if !ok {
		return nil, fmt.Errorf("memory.GetCommunity: %w", repository.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) SaveCommunityBilling(_ context.Context, c *models.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.communities[c.ID]; !ok {
		return fmt.Errorf("memory.SaveCommunityBilling: %w", repository.ErrNotFound)
	}
	if c.Suspended && c.SuspensionReason == "" {
		return fmt.Errorf("memory.SaveCommunityBilling: suspended community without reason")
	}
	c.UpdatedAt = time.Now()
	s.state.communities[c.ID] = *c
	return nil
}

func (s *Store) CreateTrial(_ context.Context, rec *models.TrialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status.CountsTowardUniqueness() {
		for _, existing := range s.state.trials {
			if existing.Matches(rec.Key()) && existing.Status.CountsTowardUniqueness() {
				return fmt.Errorf("memory.CreateTrial: %w", repository.ErrUniqueViolation)
			}
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.seq++
	rec.CreatedAt = time.Now().Add(time.Duration(s.seq))
	rec.UpdatedAt = rec.CreatedAt
	s.state.trials[rec.ID] = *rec
	return nil
}

func (s *Store) FindTrialsByKey(_ context.Context, key models.TrialKey) ([]*models.TrialRecord, error) {
	return s.filterTrials(func(t *models.TrialRecord) bool { return t.Matches(key) }), nil
}

func (s *Store) FindExpiredActiveTrials(_ context.Context, now time.Time) ([]*models.TrialRecord, error) {
	return s.filterTrials(func(t *models.TrialRecord) bool {
		return t.Status == models.TrialStatusActive && t.EndDate.Before(now)
	}), nil
}

func (s *Store) FindActiveTrialsEndingBetween(_ context.Context, from, to time.Time) ([]*models.TrialRecord, error) {
	return s.filterTrials(func(t *models.TrialRecord) bool {
		return t.Status == models.TrialStatusActive && !t.EndDate.Before(from) && !t.EndDate.After(to)
	}), nil
}

func (s *Store) FindCommunityTrial(_ context.Context, communityID string, statuses ...models.TrialStatus) (*models.TrialRecord, error) {
	found := s.filterTrials(func(t *models.TrialRecord) bool {
		if t.TrialType != models.TrialTypeCommunity || t.CommunityID == nil || *t.CommunityID != communityID {
			return false
		}
		for _, st := range statuses {
			if t.Status == st {
				return true
			}
		}
		return false
	})
	if len(found) == 0 {
		return nil, fmt.Errorf("memory.FindCommunityTrial: %w", repository.ErrNotFound)
	}
	return found[0], nil
}

func (s *Store) UpdateTrialStatus(_ context.Context, id string, status models.TrialStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.trials[id]
	if !ok {
		return fmt.Errorf("memory.UpdateTrialStatus: %w", repository.ErrNotFound)
	}
	rec.Status = status
	switch status {
	case models.TrialStatusCancelled:
		rec.CancelledAt = &at
	case models.TrialStatusConverted:
		rec.ConvertedAt = &at
	}
	rec.UpdatedAt = at
	s.state.trials[id] = rec
	return nil
}

func (s *Store) ExpireTrial(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.trials[id]
	if !ok || rec.Status != models.TrialStatusActive {
		return false, nil
	}
	rec.Status = models.TrialStatusExpired
	rec.UpdatedAt = at
	s.state.trials[id] = rec
	return true, nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.state.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("memory.GetSubscription: %w", repository.ErrNotFound)
	}
	return &sub, nil
}

func (s *Store) FindPayingSubscription(_ context.Context, communityID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Subscription
	for _, sub := range s.state.subscriptions {
		if sub.CommunityID != communityID || !sub.Status.Paying() {
			continue
		}
		candidate := sub
		if best == nil || laterEnd(candidate.CurrentEnd, best.CurrentEnd) {
			best = &candidate
		}
	}
	if best == nil {
		return nil, fmt.Errorf("memory.FindPayingSubscription: %w", repository.ErrNotFound)
	}
	return best, nil
}

func (s *Store) FindPayingSubscriptionsEndingBetween(_ context.Context, from, to time.Time) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range s.state.subscriptions {
		if !sub.Status.Paying() || sub.CurrentEnd == nil {
			continue
		}
		if sub.CurrentEnd.Before(from) || sub.CurrentEnd.After(to) {
			continue
		}
		candidate := sub
		out = append(out, &candidate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentEnd.Before(*out[j].CurrentEnd) })
	return out, nil
}

func (s *Store) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.state.subscriptions[sub.ID]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.state.subscriptions[sub.ID] = *sub
	return nil
}

func (s *Store) ReminderExists(_ context.Context, key models.ReminderKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.reminders[reminderMapKey(key)]
	return ok, nil
}

func (s *Store) AddReminder(_ context.Context, rec models.ReminderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reminderMapKey(rec.Key())
	if _, ok := s.state.reminders[key]; ok {
		return fmt.Errorf("memory.AddReminder: %w", repository.ErrUniqueViolation)
	}
	rec.PeriodEnd = key.PeriodEnd
	s.state.reminders[key] = rec
	return nil
}

func (s *Store) ListReminders(_ context.Context, kind models.ReminderOwner, ownerID string) ([]models.ReminderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReminderRecord
	for key, rec := range s.state.reminders {
		if key.OwnerKind == kind && key.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodEnd.Equal(out[j].PeriodEnd) {
			return out[i].PeriodEnd.After(out[j].PeriodEnd)
		}
		return out[i].DaysRemaining > out[j].DaysRemaining
	})
	return out, nil
}

// reminderMapKey приводит PeriodEnd к дню в UTC, как это делает колонка DATE.
func reminderMapKey(key models.ReminderKey) models.ReminderKey {
	end := key.PeriodEnd.UTC()
	key.PeriodEnd = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return key
}

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, ok := s.state.notifications[n.ID]; ok {
		return fmt.Errorf("memory.CreateNotification: %w", repository.ErrUniqueViolation)
	}
	n.CreatedAt = time.Now()
	s.state.notifications[n.ID] = *n
	return nil
}

func (s *Store) filterTrials(pred func(*models.TrialRecord) bool) []*models.TrialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TrialRecord
	for _, t := range s.state.trials {
		rec := t
		if pred(&rec) {
			out = append(out, &rec)
		}
	}
	sortTrials(out)
	// от новых к старым, как в PostgreSQL-реализации
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func sortTrials(recs []*models.TrialRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
}

func laterEnd(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func (st state) clone() state {
	out := state{
		users:         make(map[string]models.User, len(st.users)),
		communities:   make(map[string]models.Community, len(st.communities)),
		trials:        make(map[string]models.TrialRecord, len(st.trials)),
		subscriptions: make(map[string]models.Subscription, len(st.subscriptions)),
		reminders:     make(map[models.ReminderKey]models.ReminderRecord, len(st.reminders)),
		notifications: make(map[string]models.Notification, len(st.notifications)),
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.communities {
		out.communities[k] = v
	}
	for k, v := range st.trials {
		out.trials[k] = v
	}
	for k, v := range st.subscriptions {
		out.subscriptions[k] = v
	}
	for k, v := range st.reminders {
		out.reminders[k] = v
	}
	for k, v := range st.notifications {
		out.notifications[k] = v
	}
	return out
}
