package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/community-billing/internal/lib/lock"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/services/expiration"
	"github.com/magabrotheeeer/community-billing/internal/services/reminder"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type ExpirerMock struct{ mock.Mock }

func (m *ExpirerMock) ProcessExpiredTrials(ctx context.Context) (expiration.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(expiration.Result), args.Error(1)
}

type ReminderMock struct{ mock.Mock }

func (m *ReminderMock) CheckAndSendTrialReminders(ctx context.Context) (reminder.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(reminder.Result), args.Error(1)
}

func newLocker(t *testing.T) *lock.Locker {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.New(client)
}

func TestRunOnce(t *testing.T) {
	exp := new(ExpirerMock)
	rem := new(ReminderMock)
	exp.On("ProcessExpiredTrials", mock.Anything).Return(expiration.Result{Processed: 2, Total: 2}, nil).Once()
	rem.On("CheckAndSendTrialReminders", mock.Anything).Return(reminder.Result{Checked: 3, Reminders: 3}, nil).Once()

	svc := New(exp, rem, newLocker(t), time.Minute, time.Hour, newNoopLogger())
	svc.RunOnce(context.Background())

	exp.AssertExpectations(t)
	rem.AssertExpectations(t)
}

func TestRunExpiration_SkipsWhenLocked(t *testing.T) {
	locker := newLocker(t)
	exp := new(ExpirerMock)
	svc := New(exp, new(ReminderMock), locker, time.Minute, time.Hour, newNoopLogger())
	ctx := context.Background()

	held, err := locker.Acquire(ctx, metrics.JobExpireTrials, time.Minute)
	require.NoError(t, err)

	_, err = svc.RunExpiration(ctx)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	exp.AssertNotCalled(t, "ProcessExpiredTrials", mock.Anything)

	require.NoError(t, held.Release(ctx))
	exp.On("ProcessExpiredTrials", mock.Anything).Return(expiration.Result{}, nil).Once()
	_, err = svc.RunExpiration(ctx)
	require.NoError(t, err)
}

func TestRunExpiration_ReleasesLockAfterError(t *testing.T) {
	locker := newLocker(t)
	exp := new(ExpirerMock)
	exp.On("ProcessExpiredTrials", mock.Anything).Return(expiration.Result{}, errors.New("db down")).Twice()
	svc := New(exp, new(ReminderMock), locker, time.Minute, time.Hour, newNoopLogger())
	ctx := context.Background()

	_, err := svc.RunExpiration(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrNotAcquired)

	_, err = svc.RunExpiration(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrNotAcquired)
	exp.AssertExpectations(t)
}

func TestRunReminders_WithoutLocker(t *testing.T) {
	rem := new(ReminderMock)
	rem.On("CheckAndSendTrialReminders", mock.Anything).Return(reminder.Result{Checked: 1}, nil).Once()
	svc := New(new(ExpirerMock), rem, nil, 0, time.Hour, newNoopLogger())

	res, err := svc.RunReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
}

func TestStart_StopsOnCancel(t *testing.T) {
	exp := new(ExpirerMock)
	rem := new(ReminderMock)
	exp.On("ProcessExpiredTrials", mock.Anything).Return(expiration.Result{}, nil)
	rem.On("CheckAndSendTrialReminders", mock.Anything).Return(reminder.Result{}, nil)
	svc := New(exp, rem, nil, 0, 10*time.Millisecond, newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, len(exp.Calls), 2)
}
