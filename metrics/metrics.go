// Package metrics holds the Prometheus collectors of the messaging service.
//
// Exposed metrics:
//   - messages_persisted_total: messages durably appended (counter)
//   - message_deliveries_total: push attempts (counter), label outcome
//     (delivered, offline, failed)
//   - presence_connections: users with a live connection (gauge)
//   - store_errors_total: failed store operations (counter), label operation
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes.
const (
	DeliveryDelivered = "delivered"
	DeliveryOffline   = "offline"
	DeliveryFailed    = "failed"
)

var (
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_persisted_total",
			Help: "Total number of messages durably appended",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_deliveries_total",
			Help: "Total number of real-time delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	PresenceConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_connections",
			Help: "Current number of users with a live connection",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of failed store operations",
		},
		[]string{"operation"},
	)
)

// RecordDelivery counts a delivery attempt with the given outcome.
func RecordDelivery(outcome string) {
	Deliveries.WithLabelValues(outcome).Inc()
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	StoreErrors.WithLabelValues(op).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
