package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/flowstate/internal/platform/events"
)

var (
	dlqProcessedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "dlq",
		Name:      "messages_processed_total",
		Help:      "Number of DLQ entries successfully replayed.",
	}, []string{"topic", "event_type"})

	dlqRequeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "dlq",
		Name:      "messages_requeued_total",
		Help:      "Number of DLQ entries reinserted into the primary outbox.",
	}, []string{"topic", "event_type"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "dlq",
		Name:      "messages_quarantined_total",
		Help:      "Number of DLQ entries quarantined after exhausting retries.",
	}, []string{"topic", "event_type"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Subsystem: "dlq",
		Name:      "retry_scheduled_total",
		Help:      "Number of times a DLQ entry was scheduled for a future retry.",
	}, []string{"topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Entries currently held in the DLQ, by topic and state (pending or quarantined).",
	}, []string{"topic", "state"})
)

const (
	backlogPending     = "pending"
	backlogQuarantined = "quarantined"
)

type backlogKey struct {
	topic string
	state string
}

func init() {
	prometheus.MustRegister(dlqProcessedCounter, dlqRequeuedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge)
}

func recordDLQProcessed(entry dlqEntry) {
	dlqProcessedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `SELECT topic, quarantined_at IS NOT NULL, COUNT(*)
        FROM outbox_dlq
        GROUP BY topic, quarantined_at IS NOT NULL`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[backlogKey]int)
	for rows.Next() {
		var (
			topic       string
			quarantined bool
			count       int
		)
		if err := rows.Scan(&topic, &quarantined, &count); err != nil {
			return
		}
		state := backlogPending
		if quarantined {
			state = backlogQuarantined
		}
		counts[backlogKey{topic: topic, state: state}] = count
	}
	if rows.Err() != nil {
		return
	}
	setBacklog(counts)
}

// setBacklog replaces every backlog series so drained topics drop to zero.
func setBacklog(counts map[backlogKey]int) {
	dlqBacklogGauge.Reset()
	for _, topic := range []string{events.TopicActivity, events.TopicRejects} {
		dlqBacklogGauge.WithLabelValues(topic, backlogPending).Set(0)
		dlqBacklogGauge.WithLabelValues(topic, backlogQuarantined).Set(0)
	}
	for key, count := range counts {
		dlqBacklogGauge.WithLabelValues(key.topic, key.state).Set(float64(count))
	}
}
