package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
	"example.com/flowstate/internal/observability"
	"example.com/flowstate/internal/platform/events"
)

// RejectLog stores rejected raw records in activity_rejects and announces them on the outbox.
type RejectLog struct {
	pool   *pgxpool.Pool
	userID string
}

// NewRejectLog constructs a RejectLog. userID owns the emitted outbox events.
func NewRejectLog(pool *pgxpool.Pool, userID string) *RejectLog {
	if userID == "" {
		userID = normalize.DefaultUserID
	}
	return &RejectLog{pool: pool, userID: userID}
}

// Record implements domain.RejectLog.
func (l *RejectLog) Record(ctx context.Context, reject domain.Reject) (err error) {
	payload, err := json.Marshal(reject.Raw)
	if err != nil {
		return fmt.Errorf("encode raw record: %w", err)
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var rejectID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO activity_rejects (raw_kind, raw_id, reason, detail, payload, rejected_at)
         VALUES ($1,$2,$3,$4,$5,$6) RETURNING reject_id`,
		reject.RawKind, nullIfEmpty(reject.RawID), reject.Reason, reject.Detail, payload, reject.RejectedAt,
	).Scan(&rejectID)
	if err != nil {
		return err
	}

	err = insertOutbox(ctx, tx, outboxEvent{
		UserID:        l.userID,
		AggregateType: "reject",
		AggregateID:   strconv.FormatInt(rejectID, 10),
		EventType:     events.TypeActivityRejected,
		PartitionKey:  reject.RawKind,
		Payload: events.ActivityRejected{
			RejectID:   rejectID,
			RawKind:    reject.RawKind,
			RawID:      reject.RawID,
			Reason:     reject.Reason,
			Detail:     reject.Detail,
			RejectedAt: reject.RejectedAt,
		},
	})
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordRejectPersisted(reject.RejectedAt)
	return nil
}
