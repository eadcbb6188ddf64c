// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Number of registered live connections",
	})
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_delivered_total",
		Help: "The total number of events enqueued to live connections",
	})
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_delivery_failures_total",
		Help: "The total number of events a live connection could not accept",
	})
	JoinsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_joins_denied_total",
		Help: "The total number of join requests outside the caller's entitlement",
	})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transition attempts by result",
	}, []string{"result"})
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Broker notifications by result",
	}, []string{"result"})
)
