package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/magabrotheeeer/community-billing/internal/app/infra"
	"github.com/magabrotheeeer/community-billing/internal/billing"
	"github.com/magabrotheeeer/community-billing/internal/config"
	"github.com/magabrotheeeer/community-billing/internal/lib/lock"
	"github.com/magabrotheeeer/community-billing/internal/lib/sl"
	"github.com/magabrotheeeer/community-billing/internal/models"
	schedulerservice "github.com/magabrotheeeer/community-billing/internal/services/scheduler"
)

// session сервисы, доступные команде. Пакетные задачи идут через планировщик,
// чтобы не пересекаться с работающими репликами.
type session struct {
	billing *billing.Billing
	jobs    *schedulerservice.Service
}

func newSession(b *billing.Billing, locker *lock.Locker, lockTTL time.Duration, log *slog.Logger) *session {
	return &session{
		billing: b,
		jobs:    schedulerservice.New(b.Expirations, b.Reminders, locker, lockTTL, 0, log),
	}
}

type runFunc func(ctx context.Context, s *session, out io.Writer, args []string) error

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Community billing maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults to CONFIG_PATH)")

	withSession := func(broker bool, run runFunc) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = os.Getenv("CONFIG_PATH")
			}
			if path == "" {
				return fmt.Errorf("config path is required (use --config or CONFIG_PATH)")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			log := sl.New(cfg.Env, cmd.ErrOrStderr())

			deps, err := infra.Open(cmd.Context(), cfg, log, infra.Options{Broker: broker, Cache: true})
			if err != nil {
				return err
			}
			defer deps.Close()

			s := newSession(deps.Billing(cfg), lock.New(deps.Cache.Db), cfg.LockTTL, log)
			return run(cmd.Context(), s, cmd.OutOrStdout(), args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:     "reconcile <community-id>...",
			Short:   "Check communities for inconsistent billing state and repair it",
			Example: "  billingctl reconcile 6650f1c2 6650f1c3",
			Args:    cobra.MinimumNArgs(1),
			RunE:    withSession(false, runReconcile),
		},
		&cobra.Command{
			Use:   "expire-trials",
			Short: "Expire trials whose end date has passed",
			Args:  cobra.NoArgs,
			RunE:  withSession(true, runExpireTrials),
		},
		&cobra.Command{
			Use:   "send-reminders",
			Short: "Publish trial and subscription expiry reminders",
			Args:  cobra.NoArgs,
			RunE:  withSession(true, runSendReminders),
		},
		&cobra.Command{
			Use:     "reminders <trial|subscription> <owner-id>",
			Short:   "Show reminders already sent for a trial or subscription",
			Example: "  billingctl reminders subscription sub_6650f1c2",
			Args:    cobra.ExactArgs(2),
			RunE:    withSession(false, runReminderHistory),
		},
	)
	return root
}

// reconcileReport строка отчёта по одному сообществу.
type reconcileReport struct {
	CommunityID string `json:"community_id"`
	Findings    any    `json:"findings,omitempty"`
	Error       string `json:"error,omitempty"`
}

func runReconcile(ctx context.Context, s *session, out io.Writer, args []string) error {
	found, failed := s.billing.ReconcileAll(ctx, args)

	reports := make([]reconcileReport, 0, len(found)+len(failed))
	for id, findings := range found {
		reports = append(reports, reconcileReport{CommunityID: id, Findings: findings})
	}
	for id, err := range failed {
		reports = append(reports, reconcileReport{CommunityID: id, Error: err.Error()})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].CommunityID < reports[j].CommunityID })

	if err := printJSON(out, reports); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("reconcile failed for %d of %d communities", len(failed), len(args))
	}
	return nil
}

func runExpireTrials(ctx context.Context, s *session, out io.Writer, _ []string) error {
	res, err := s.jobs.RunExpiration(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runSendReminders(ctx context.Context, s *session, out io.Writer, _ []string) error {
	res, err := s.jobs.RunReminders(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

// reminderReport строка истории напоминаний.
type reminderReport struct {
	PeriodEnd     string    `json:"period_end"`
	DaysRemaining int       `json:"days_remaining"`
	SentAt        time.Time `json:"sent_at"`
	EmailSent     bool      `json:"email_sent"`
	InAppSent     bool      `json:"in_app_sent"`
}

func runReminderHistory(ctx context.Context, s *session, out io.Writer, args []string) error {
	recs, err := s.billing.Reminders.History(ctx, models.ReminderOwner(args[0]), args[1])
	if err != nil {
		return err
	}
	reports := make([]reminderReport, 0, len(recs))
	for _, rec := range recs {
		reports = append(reports, reminderReport{
			PeriodEnd:     rec.PeriodEnd.Format(time.DateOnly),
			DaysRemaining: rec.DaysRemaining,
			SentAt:        rec.SentAt,
			EmailSent:     rec.EmailSent,
			InAppSent:     rec.InAppSent,
		})
	}
	return printJSON(out, reports)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
