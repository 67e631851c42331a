// Package metrics объявляет метрики Prometheus сервиса биллинга.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "community_billing"

var (
	// TrialActivations количество попыток активации пробного периода по типу и результату.
	TrialActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trial_activations_total",
		Help:      "Trial activation attempts by trial type and result.",
	}, []string{"trial_type", "result"})

	// TrialExpirations количество пробных периодов, переведённых в expired.
	TrialExpirations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trial_expirations_total",
		Help:      "Trials marked expired by trial type.",
	}, []string{"trial_type"})

	// RemindersSent количество отправленных напоминаний.
	RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reminders_sent_total",
		Help:      "Expiration reminders sent by owner kind and days remaining.",
	}, []string{"owner", "days"})

	// BatchErrors ошибки обработки отдельных записей в пакетных задачах.
	BatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_errors_total",
		Help:      "Per-record failures in batch jobs.",
	}, []string{"job"})

	// BatchDuration длительность пакетных задач.
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Batch job duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	// ReconcileFixes исправления, внесённые сверкой данных.
	ReconcileFixes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_fixes_total",
		Help:      "Inconsistencies fixed by the reconciler by issue.",
	}, []string{"issue"})

	// WebhookRequests запросы от платёжного шлюза по типу события и результату.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Payment webhook requests by event type and result.",
	}, []string{"event_type", "result"})
)

// Названия пакетных задач в метках.
const (
	JobExpireTrials  = "expire_trials"
	JobSendReminders = "send_reminders"
)
