// Package metrics is a thin prometheus wrapper for the controller's own
// counters and gauges, grounded on pkg/metrics's typed
// Counter/Gauge-with-opts constructors — narrowed from the teacher's
// full MetricRegistry/IMetric registry (which exists to let ~70 provider
// packages register independently without colliding) to a flat set of
// package-level metrics, since this controller has one fixed set of
// instrumentation points, not a plugin registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshdns_controller"

var (
	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "syncs_total",
			Help:      "Number of sync passes run, labeled by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	RecordsManaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "records_managed",
			Help:      "Number of DNS records currently owned by this controller.",
		},
	)

	RecordsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "records_created_total",
			Help:      "Number of DNS records created across all sync passes.",
		},
	)

	RecordsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "records_deleted_total",
			Help:      "Number of DNS records deleted across all sync passes.",
		},
	)

	ZoneErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dnsbackend",
			Name:      "zone_errors_total",
			Help:      "Number of per-zone apply failures, labeled by zone ID.",
		},
		[]string{"zone_id"},
	)

	InventoryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "requests_total",
			Help:      "Number of inventory API requests, labeled by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	LastSyncTimestampSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "last_sync_timestamp_seconds",
			Help:      "Unix timestamp of the last successful sync pass.",
		},
	)
)

// MustRegister registers every package-level metric with reg. Called
// once at startup with prometheus.DefaultRegisterer.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		SyncsTotal,
		RecordsManaged,
		RecordsCreatedTotal,
		RecordsDeletedTotal,
		ZoneErrorsTotal,
		InventoryRequestsTotal,
		LastSyncTimestampSeconds,
	)
}

// RecordSyncOutcome records a completed sync pass's outcome (spec §4.8:
// trigger is one of "cron", "webhook", "manual").
func RecordSyncOutcome(trigger, outcome string, added, deleted, managed int) {
	SyncsTotal.WithLabelValues(trigger, outcome).Inc()
	RecordsCreatedTotal.Add(float64(added))
	RecordsDeletedTotal.Add(float64(deleted))
	RecordsManaged.Set(float64(managed))
}
