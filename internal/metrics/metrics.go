// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks live gateway connections on this process.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomrelay_connections_active",
		Help: "Number of live WebSocket connections.",
	})

	// MessagesSent counts messages persisted and broadcast.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomrelay_messages_sent_total",
		Help: "Messages accepted on the send path.",
	})

	// MessagesDeduped counts retried sends resolved by the idempotency key.
	MessagesDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomrelay_messages_deduped_total",
		Help: "Retried sends answered with an existing message.",
	})

	// NotificationsRealtime counts notifications pushed over live connections.
	NotificationsRealtime = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomrelay_notifications_realtime_total",
		Help: "Notifications delivered directly to online recipients.",
	})

	// NotificationsQueued counts notifications enqueued for offline users.
	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomrelay_notifications_queued_total",
		Help: "Notifications enqueued for offline recipients.",
	})

	// JobsProcessed counts notification jobs the worker completed.
	JobsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomrelay_notification_jobs_processed_total",
		Help: "Notification jobs processed successfully.",
	})

	// JobsDeadLettered counts jobs moved to the dead-letter queue.
	JobsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomrelay_notification_jobs_dead_lettered_total",
		Help: "Notification jobs that exhausted retries.",
	})
)
