// Package metrics exposes the tracker's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sample results.
const (
	ResultOK                  = "ok"
	ResultAcquisitionError    = "acquisition_error"
	ResultClassificationError = "classification_error"
)

var (
	Samples = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zenflow",
		Name:      "samples_total",
		Help:      "Presence samples taken, by result.",
	}, []string{"result"})

	StatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zenflow",
		Name:      "status_changes_total",
		Help:      "Debounced status transitions, by new status.",
	}, []string{"status"})

	PartialLogs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zenflow",
		Name:      "partial_logs_total",
		Help:      "Absences long enough to be written to the partial log.",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zenflow",
		Name:      "store_errors_total",
		Help:      "Failed store operations, by operation.",
	}, []string{"op"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zenflow",
		Name:      "subscribers",
		Help:      "Currently connected real-time subscribers.",
	})

	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zenflow",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a subscriber queue was full or closed.",
	})

	PushNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zenflow",
		Name:      "push_notifications_total",
		Help:      "Web push deliveries, by outcome.",
	}, []string{"outcome"})
)
