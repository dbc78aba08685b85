// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts accepted TCP connections.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opcua_server_connections_total",
			Help: "Total number of accepted TCP connections",
		},
	)

	// ChannelsOpen tracks currently issued SecureChannels.
	ChannelsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opcua_server_channels_open",
			Help: "Number of currently issued SecureChannels",
		},
	)

	// ChannelRenewalsTotal counts OpenSecureChannel Renew requests by outcome.
	ChannelRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_server_channel_renewals_total",
			Help: "Total number of OpenSecureChannel Renew requests",
		},
		[]string{"result"},
	)

	// SessionsOpen tracks currently active sessions.
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opcua_server_sessions_open",
			Help: "Number of currently active sessions",
		},
	)

	// SessionsExpiredTotal counts sessions closed by the idle-timeout sweep.
	SessionsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opcua_server_sessions_expired_total",
			Help: "Total number of sessions closed by the idle timeout sweep",
		},
	)

	// ServiceRequestsTotal counts dispatched service requests by kind and
	// resulting StatusCode class (good/bad).
	ServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_server_service_requests_total",
			Help: "Total number of dispatched service requests",
		},
		[]string{"service", "result"},
	)

	// ServiceRequestLatencySeconds measures service dispatch latency.
	ServiceRequestLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opcua_server_service_request_latency_seconds",
			Help:    "Latency of service request dispatch in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"service"},
	)

	// SubscriptionsOpen tracks currently active subscriptions.
	SubscriptionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opcua_server_subscriptions_open",
			Help: "Number of currently active subscriptions",
		},
	)

	// MonitoredItemsTotal tracks the current number of monitored items
	// across all subscriptions.
	MonitoredItemsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opcua_server_monitored_items_total",
			Help: "Current number of monitored items across all subscriptions",
		},
	)

	// NotificationsPublishedTotal counts NotificationMessages delivered to
	// clients via Publish/Republish.
	NotificationsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opcua_server_notifications_published_total",
			Help: "Total number of NotificationMessages published",
		},
		[]string{"kind"}, // "data_change" | "keep_alive" | "republish"
	)

	// AddressSpaceNodes tracks the current node count of the AddressSpace.
	AddressSpaceNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opcua_server_address_space_nodes",
			Help: "Current number of nodes in the AddressSpace",
		},
	)

	// BrowseContinuationPointsOpen tracks live (unreleased) Browse
	// continuation points.
	BrowseContinuationPointsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opcua_server_browse_continuation_points_open",
			Help: "Number of outstanding Browse continuation points",
		},
	)
)
