// Package scheduler периодически запускает пакетные задачи биллинга: перевод
// истёкших пробных периодов и рассылку напоминаний. Каждая задача выполняется
// под распределённой блокировкой, поэтому при нескольких репликах её запускает одна.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/lib/lock"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/metrics"
	"github.com/magabrotheeeer/community-billing/internal/services/expiration"
	"github.com/magabrotheeeer/community-billing/internal/services/reminder"
)

// Expirer переводит истёкшие пробные периоды.
type Expirer interface {
	ProcessExpiredTrials(ctx context.Context) (expiration.Result, error)
}

// Reminder рассылает напоминания.
type Reminder interface {
	CheckAndSendTrialReminders(ctx context.Context) (reminder.Result, error)
}

// Service планировщик пакетных задач.
type Service struct {
	expirer  Expirer
	reminder Reminder
	locker   *lock.Locker
	lockTTL  time.Duration
	interval time.Duration
	log      *slog.Logger
}

// New создаёт планировщик. Если locker равен nil, задачи выполняются без блокировки.
func New(expirer Expirer, reminder Reminder, locker *lock.Locker, lockTTL, interval time.Duration, log *slog.Logger) *Service {
	return &Service{
		expirer:  expirer,
		reminder: reminder,
		locker:   locker,
		lockTTL:  lockTTL,
		interval: interval,
		log:      log,
	}
}

// Start выполняет задачи сразу и затем с заданным интервалом до отмены ctx.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("scheduler started", slog.Duration("interval", s.interval))
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет сканирование истёкших пробных периодов, затем рассылку напоминаний.
func (s *Service) RunOnce(ctx context.Context) {
	if _, err := s.RunExpiration(ctx); err != nil {
		s.logRunError(metrics.JobExpireTrials, err)
	}
	if _, err := s.RunReminders(ctx); err != nil {
		s.logRunError(metrics.JobSendReminders, err)
	}
}

// RunExpiration запускает сканер истёкших пробных периодов под блокировкой.
func (s *Service) RunExpiration(ctx context.Context) (expiration.Result, error) {
	var res expiration.Result
	err := s.withLock(ctx, metrics.JobExpireTrials, func(ctx context.Context) error {
		var err error
		res, err = s.expirer.ProcessExpiredTrials(ctx)
		return err
	})
	return res, err
}

// RunReminders запускает рассылку напоминаний под блокировкой.
func (s *Service) RunReminders(ctx context.Context) (reminder.Result, error) {
	var res reminder.Result
	err := s.withLock(ctx, metrics.JobSendReminders, func(ctx context.Context) error {
		var err error
		res, err = s.reminder.CheckAndSendTrialReminders(ctx)
		return err
	})
	return res, err
}

func (s *Service) withLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	if s.locker != nil {
		lk, err := s.locker.Acquire(ctx, job, s.lockTTL)
		if err != nil {
			return err
		}
		defer func() {
			// контекст задачи может быть уже отменён, блокировку всё равно снимаем
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lk.Release(releaseCtx); err != nil {
				s.log.Error("failed to release lock", slog.String("job", job), sl.Err(err))
			}
		}()
	}

	start := time.Now()
	err := fn(ctx)
	metrics.BatchDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", job, err)
	}
	return nil
}

func (s *Service) logRunError(job string, err error) {
	if errors.Is(err, lock.ErrNotAcquired) {
		s.log.Info("job skipped, another replica holds the lock", slog.String("job", job))
		return
	}
	s.log.Error("job failed", slog.String("job", job), sl.Err(err))
}
