package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Activity and reject events are labelled separately so a burst of rejects
// is visible without reading the DLQ.
var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Outbox events published to Kafka, by topic and event type.",
	}, []string{"topic", "event_type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Outbox events whose publish attempt failed, by topic and event type.",
	}, []string{"topic", "event_type"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Outbox events written to the dead-letter queue, by topic and event type.",
	}, []string{"topic", "event_type"})

	publishLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstate",
		Subsystem: "outbox",
		Name:      "publish_lag_seconds",
		Help:      "Seconds between an activity being committed and its event reaching Kafka.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event_type"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowstate",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, delivering, and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, publishLag, batchDuration)
}

func recordDelivered(messages []Message, now time.Time) {
	for _, msg := range messages {
		deliveredCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
		if !msg.CreatedAt.IsZero() {
			publishLag.WithLabelValues(msg.EventType).Observe(now.Sub(msg.CreatedAt).Seconds())
		}
	}
}

func recordFailed(messages []Message) {
	for _, msg := range messages {
		failedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	}
}
