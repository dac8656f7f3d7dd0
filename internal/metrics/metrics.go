package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aop_webhook_events_total",
		Help: "Inbound payment webhooks, labelled by event type and result.",
	}, []string{"event_type", "result"})

	WebhookHandlingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aop_webhook_handling_duration_seconds",
		Help:    "Time spent handling an accepted webhook, including all fan-out branches.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"event_type"})

	BranchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aop_branch_outcomes_total",
		Help: "Fan-out branch outcomes, labelled by branch and result (ok, failed, skipped).",
	}, []string{"branch", "result"})

	MagicLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aop_magic_links_total",
		Help: "Account provisioning results, labelled by link source (obtained, fallback).",
	}, []string{"source"})

	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aop_login_attempts_total",
		Help: "Password login attempts, labelled by result.",
	}, []string{"result"})

	PasswordSets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aop_password_sets_total",
		Help: "Invite password set attempts, labelled by result.",
	}, []string{"result"})
)
