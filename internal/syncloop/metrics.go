package syncloop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "sync",
		Name:      "records_total",
		Help:      "Source records processed by the sync loop, by source and outcome.",
	}, []string{"source", "outcome"})

	failureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "sync",
		Name:      "record_failures_total",
		Help:      "Source records that could not be stored and will be retried.",
	}, []string{"source"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstate",
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Time spent syncing one source.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"source"})

	checkpointLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Subsystem: "sync",
		Name:      "checkpoint_lag_seconds",
		Help:      "Age of the newest synced source record.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(recordsCounter, failureCounter, runDuration, checkpointLag)
}

func observeRun(source string, elapsed time.Duration, r Report) {
	runDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	for outcome, n := range map[string]int{
		"synced":   r.Synced,
		"replayed": r.Replayed,
		"rejected": r.Rejected,
		"invalid":  r.Invalid,
	} {
		if n > 0 {
			recordsCounter.WithLabelValues(source, outcome).Add(float64(n))
		}
	}
}

func recordFailure(source string) {
	failureCounter.WithLabelValues(source).Inc()
}

func recordCheckpointLag(source string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	checkpointLag.WithLabelValues(source).Set(lag.Seconds())
}
