// Package metrics defines the Prometheus collectors for subscription
// lifecycle, notification routing, and real-time delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roomsync"

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	subscriptionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "operations_total",
			Help:      "Provider subscription operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "active",
			Help:      "Number of subscriptions held in the store",
		},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of calendar provider calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	notificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "received_total",
			Help:      "Webhook notification entries received by change type",
		},
		[]string{"change_type"},
	)

	notificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dropped_total",
			Help:      "Webhook notification entries dropped without a broadcast",
		},
		[]string{"reason"},
	)

	eventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "events_broadcast_total",
			Help:      "Room events broadcast to connected clients",
		},
		[]string{"type"},
	)

	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "connected_clients",
			Help:      "Number of connected WebSocket clients",
		},
	)
)

// RecordSubscriptionOperation records a provider subscription call outcome.
func RecordSubscriptionOperation(operation, result string) {
	subscriptionOperations.WithLabelValues(operation, result).Inc()
}

// SetActiveSubscriptions updates the active subscription gauge.
func SetActiveSubscriptions(n int) {
	activeSubscriptions.Set(float64(n))
}

// ObserveProviderCall records how long a provider call took.
func ObserveProviderCall(operation string, d time.Duration) {
	providerCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordNotificationReceived counts an inbound notification entry.
func RecordNotificationReceived(changeType string) {
	notificationsReceived.WithLabelValues(changeType).Inc()
}

// RecordNotificationDropped counts an entry that produced no broadcast.
func RecordNotificationDropped(reason string) {
	notificationsDropped.WithLabelValues(reason).Inc()
}

// RecordEventBroadcast counts a room event sent to clients.
func RecordEventBroadcast(eventType string) {
	eventsBroadcast.WithLabelValues(eventType).Inc()
}

// SetConnectedClients updates the connected client gauge.
func SetConnectedClients(n int) {
	connectedClients.Set(float64(n))
}
