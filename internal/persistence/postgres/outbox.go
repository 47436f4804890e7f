package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/flowstate/internal/platform/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeActivityLogged: {
		Topic:         events.TopicActivity,
		SchemaSubject: events.TopicActivity + "-value",
	},
	events.TypeActivityRejected: {
		Topic:         events.TopicRejects,
		SchemaSubject: events.TopicRejects + "-value",
	},
}

type outboxEvent struct {
	UserID        string
	AggregateType string
	AggregateID   string
	EventType     string
	PartitionKey  string
	Payload       any
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ev outboxEvent) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[ev.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", ev.EventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s:%s", ev.AggregateType, ev.AggregateID, ev.EventType)

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		ev.UserID,
		ev.AggregateType,
		ev.AggregateID,
		ev.EventType,
		meta.Topic,
		meta.SchemaSubject,
		ev.PartitionKey,
		body,
		dedupeKey,
	)
	return err
}
