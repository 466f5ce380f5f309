package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymsite_webhook_events_total",
			Help: "Stripe webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	WebhookHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymsite_webhook_handler_failures_total",
			Help: "Verified webhook events whose handler failed, by reason",
		},
		[]string{"event_type", "reason"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gymsite_webhook_duration_seconds",
			Help:    "Time spent applying a verified webhook event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	MemberSignups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gymsite_member_signups_total",
			Help: "Member registrations by result",
		},
		[]string{"result"},
	)

	RegisteredMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gymsite_members",
		Help: "Registered member accounts",
	})

	ActiveMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gymsite_active_members",
		Help: "Members whose membership window covers the last sample time",
	})
)
