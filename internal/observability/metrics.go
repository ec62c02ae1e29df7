package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	ConversationCreatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_creates_total",
			Help: "ensureConversation outcomes (created vs existing)",
		},
		[]string{"outcome"},
	)

	MessagesAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_appended_total",
			Help: "Total number of messages appended to the ledger",
		},
	)

	SyncEventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_applied_total",
			Help: "Change-stream deltas merged into the local cache",
		},
		[]string{"table", "op"},
	)

	SyncResyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_resyncs_total",
			Help: "Snapshot re-fetches after a dropped stream",
		},
	)

	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"service"},
	)

	OutboxPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of outbox publish failures",
		},
		[]string{"service", "topic"},
	)
)
