// Package observability holds the process-wide prometheus collectors shared across packages.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	normalizeRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "normalize",
		Name:      "records_total",
		Help:      "Raw records normalized, by raw kind and outcome (created, replay, rejected, invalid).",
	}, []string{"kind", "outcome"})

	machineInferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "normalize",
		Name:      "machine_inferred_total",
		Help:      "Activities whose machine was substituted by the classifying host.",
	}, []string{"kind"})

	unlistedActivityTypes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "normalize",
		Name:      "unlisted_activity_type_total",
		Help:      "Activities carrying an explicit activity type outside the recommended set.",
	}, []string{"activity_type"})

	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted to Postgres.",
	})

	rejectPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Subsystem: "persistence",
		Name:      "last_reject_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent reject written to the reject log.",
	})
)

func init() {
	prometheus.MustRegister(normalizeRecords, machineInferred, unlistedActivityTypes, activityPersistGauge, rejectPersistGauge)
}

// RecordNormalizeOutcome counts one normalized raw record.
func RecordNormalizeOutcome(kind, outcome string) {
	normalizeRecords.WithLabelValues(kind, outcome).Inc()
}

// RecordMachineInferred counts an activity with a substituted machine.
func RecordMachineInferred(kind string) {
	machineInferred.WithLabelValues(kind).Inc()
}

// RecordUnlistedActivityType counts an activity type outside the recommended set.
func RecordUnlistedActivityType(activityType string) {
	unlistedActivityTypes.WithLabelValues(activityType).Inc()
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordRejectPersisted updates the reject watermark gauge.
func RecordRejectPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	rejectPersistGauge.Set(float64(ts.Unix()))
}
