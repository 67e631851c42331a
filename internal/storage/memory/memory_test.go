package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/community-billing/internal/models"
	"github.com/magabrotheeeer/community-billing/internal/storage/repository"
)

func strPtr(s string) *string { return &s }

func TestStore_CreateTrialUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	first := &models.TrialRecord{
		UserID: "u1", TrialType: models.TrialTypeCommunity, CommunityID: strPtr("c1"),
		StartDate: now, EndDate: now.Add(time.Hour), Status: models.TrialStatusActive,
	}
	require.NoError(t, s.CreateTrial(ctx, first))
	assert.NotEmpty(t, first.ID)

	dup := &models.TrialRecord{
		UserID: "u1", TrialType: models.TrialTypeCommunity, CommunityID: strPtr("c1"),
		StartDate: now, EndDate: now.Add(time.Hour), Status: models.TrialStatusActive,
	}
	err := s.CreateTrial(ctx, dup)
	assert.ErrorIs(t, err, repository.ErrUniqueViolation)

	other := &models.TrialRecord{
		UserID: "u1", TrialType: models.TrialTypeCommunity, CommunityID: strPtr("c2"),
		StartDate: now, EndDate: now.Add(time.Hour), Status: models.TrialStatusActive,
	}
	require.NoError(t, s.CreateTrial(ctx, other))

	require.NoError(t, s.UpdateTrialStatus(ctx, first.ID, models.TrialStatusCancelled, now))
	require.NoError(t, s.CreateTrial(ctx, dup))

	recs, err := s.FindTrialsByKey(ctx, first.Key())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, dup.ID, recs[0].ID)
	assert.Equal(t, models.TrialStatusCancelled, recs[1].Status)
	assert.NotNil(t, recs[1].CancelledAt)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutCommunity(models.Community{ID: "c1", AdminID: "u1", PaymentStatus: models.PaymentStatusUnpaid})

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.GetCommunity(ctx, "c1")
		require.NoError(t, err)
		c.PaymentStatus = models.PaymentStatusTrial
		require.NoError(t, s.SaveCommunityBilling(ctx, c))
		require.NoError(t, s.CreateTrial(ctx, &models.TrialRecord{
			UserID: "u1", TrialType: models.TrialTypeCommunity, CommunityID: strPtr("c1"),
			Status: models.TrialStatusActive,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c, err := s.GetCommunity(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, c.PaymentStatus)
	assert.Empty(t, s.Trials())
}

func TestStore_ExpireTrialOnlyActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	active := &models.TrialRecord{UserID: "u1", TrialType: models.TrialTypeUser, Status: models.TrialStatusActive}
	converted := &models.TrialRecord{UserID: "u2", TrialType: models.TrialTypeUser, Status: models.TrialStatusConverted}
	require.NoError(t, s.CreateTrial(ctx, active))
	require.NoError(t, s.CreateTrial(ctx, converted))

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "активная запись", id: active.ID, want: true},
		{name: "уже истекла", id: active.ID, want: false},
		{name: "конвертирована", id: converted.ID, want: false},
		{name: "нет записи", id: "missing", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ExpireTrial(ctx, tt.id, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.GetCommunity(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.FindCommunityTrial(ctx, "missing", models.TrialStatusActive)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.FindPayingSubscription(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTrialStatus(ctx, "missing", models.TrialStatusExpired, time.Now()), repository.ErrNotFound)
}

func TestStore_SuspendedWithoutReasonRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutCommunity(models.Community{ID: "c1"})

	err := s.SaveCommunityBilling(ctx, &models.Community{ID: "c1", Suspended: true})
	assert.Error(t, err)
}

func TestStore_Reminders(t *testing.T) {
	ctx := context.Background()
	s := New()
	end := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := models.ReminderRecord{OwnerKind: models.ReminderOwnerTrial, OwnerID: "t1", PeriodEnd: end, DaysRemaining: 3, SentAt: time.Now()}

	exists, err := s.ReminderExists(ctx, rec.Key())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.AddReminder(ctx, rec))
	assert.ErrorIs(t, s.AddReminder(ctx, rec), repository.ErrUniqueViolation)

	// время внутри того же дня даёт тот же ключ
	sameDay := rec.Key()
	sameDay.PeriodEnd = end.Add(15 * time.Hour)
	exists, err = s.ReminderExists(ctx, sameDay)
	require.NoError(t, err)
	assert.True(t, exists)

	next := rec
	next.PeriodEnd = end.AddDate(0, 1, 0)
	exists, err = s.ReminderExists(ctx, next.Key())
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, s.AddReminder(ctx, next))

	recs, err := s.ListReminders(ctx, models.ReminderOwnerTrial, "t1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, next.PeriodEnd, recs[0].PeriodEnd)
}

func TestStore_PayingSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	soon := now.Add(24 * time.Hour)
	later := now.Add(72 * time.Hour)

	require.NoError(t, s.UpsertSubscription(ctx, &models.Subscription{ID: "s1", CommunityID: "c1", Status: models.SubscriptionActive, CurrentEnd: &soon}))
	require.NoError(t, s.UpsertSubscription(ctx, &models.Subscription{ID: "s2", CommunityID: "c1", Status: models.SubscriptionAuthenticated, CurrentEnd: &later}))
	require.NoError(t, s.UpsertSubscription(ctx, &models.Subscription{ID: "s3", CommunityID: "c1", Status: models.SubscriptionCancelled, CurrentEnd: &later}))

	sub, err := s.FindPayingSubscription(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "s2", sub.ID)

	subs, err := s.FindPayingSubscriptionsEndingBetween(ctx, now, now.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "s1", subs[0].ID)
}
