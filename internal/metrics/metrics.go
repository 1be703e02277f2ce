// Package metrics exposes the pipeline's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal counts per-listing poll outcomes.
	// outcome: ok | delisted | invalid_response | error
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "polls_total",
		Help:      "Per-listing poll jobs by store and outcome.",
	}, []string{"store", "outcome"})

	// PollDuration observes wall time of per-listing polls.
	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "monitor",
		Name:      "poll_duration_seconds",
		Help:      "Duration of per-listing poll jobs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"store"})

	// PriceWritesTotal counts persisted price rows.
	PriceWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "price_writes_total",
		Help:      "Price rows written after the diff engine reported an outdated observation.",
	}, []string{"store"})

	// VariantEventsTotal counts price-drop/restock events fanned out to the
	// dispatcher.
	VariantEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "variant_events_total",
		Help:      "Variant events handed to the notification dispatcher.",
	}, []string{"event"})

	// NotificationsSentTotal counts delivered alert messages.
	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "notifications_sent_total",
		Help:      "Alert messages sent, by event type.",
	}, []string{"event"})

	// NotificationSendFailuresTotal counts individual best-effort send
	// failures (the batch itself never fails on these).
	NotificationSendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "notification_send_failures_total",
		Help:      "Individual alert send failures, by event type.",
	}, []string{"event"})

	// ReconcileListingsTotal counts reconciler writes per store.
	// action: inserted | reactivated
	ReconcileListingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "reconcile_listings_total",
		Help:      "Store listings inserted or reactivated by the reconciler.",
	}, []string{"store", "action"})

	// JobsEnqueuedTotal counts scheduler enqueues that were not collapsed by
	// a singleton key.
	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs enqueued, by kind and cadence.",
	}, []string{"kind", "cadence"})

	// QueueDepth tracks pending jobs by kind.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Name:      "queue_depth",
		Help:      "Pending jobs in the task queue, by kind.",
	}, []string{"kind"})
)
