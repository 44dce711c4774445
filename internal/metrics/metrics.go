package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOperations counts debit/credit attempts by outcome
	// (applied, insufficient, duplicate, error).
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karatrack",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Credit ledger operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ProjectTransitions counts lifecycle transitions by target status and
	// whether the guarded update applied.
	ProjectTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karatrack",
		Subsystem: "projects",
		Name:      "transitions_total",
		Help:      "Project status transitions by target status and outcome.",
	}, []string{"to", "outcome"})

	// DispatchTotal counts GPU worker submissions.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karatrack",
		Subsystem: "worker",
		Name:      "dispatch_total",
		Help:      "GPU worker job submissions by mode and outcome.",
	}, []string{"mode", "outcome"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "karatrack",
		Subsystem: "worker",
		Name:      "dispatch_duration_seconds",
		Help:      "GPU worker submission latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// WebhookRequestsTotal counts inbound webhooks by source, event and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karatrack",
		Subsystem: "webhooks",
		Name:      "requests_total",
		Help:      "Inbound webhook requests by source, event type and HTTP status.",
	}, []string{"source", "event_type", "status"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "karatrack",
		Subsystem: "webhooks",
		Name:      "duration_seconds",
		Help:      "Inbound webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	// EmailsTotal counts notification attempts by goal and outcome.
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karatrack",
		Subsystem: "notifications",
		Name:      "emails_total",
		Help:      "Notification emails by goal and outcome.",
	}, []string{"goal", "outcome"})
)
