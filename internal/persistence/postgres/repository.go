// Package postgres implements the activity log, reject log, checkpoints and
// collector source readers on top of PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/observability"
	"example.com/flowstate/internal/platform/events"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for the activity log and its outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activityColumns = `activity_id, user_id, project_name, activity_type, activity_description, metadata, raw_kind, COALESCE(raw_id, ''), created_at, ingested_at`

// FindByRawKey returns the activity previously created from the given raw record, if any.
func (r *Repository) FindByRawKey(ctx context.Context, rawKind, rawID string) (*domain.Activity, error) {
	if rawID == "" {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activity_log WHERE raw_kind=$1 AND raw_id=$2`, rawKind, rawID)
	activity, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// Create persists the activity and records the activity.logged outbox event inside a single transaction.
func (r *Repository) Create(ctx context.Context, activity domain.Activity) (err error) {
	metadata, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertActivity = `INSERT INTO activity_log (activity_id, user_id, project_name, activity_type, activity_description, metadata, raw_kind, raw_id, created_at, ingested_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err = tx.Exec(ctx, insertActivity,
		activity.ID,
		activity.UserID,
		activity.ProjectName,
		activity.ActivityType,
		activity.Description,
		metadata,
		activity.RawKind,
		nullIfEmpty(activity.RawID),
		activity.CreatedAt,
		activity.IngestedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = domain.ErrDuplicateRawKey
		}
		return err
	}

	err = insertOutbox(ctx, tx, outboxEvent{
		UserID:        activity.UserID,
		AggregateType: "activity",
		AggregateID:   activity.ID,
		EventType:     events.TypeActivityLogged,
		PartitionKey:  activity.UserID + ":" + activity.ProjectName,
		Payload: events.ActivityLogged{
			ActivityID:   activity.ID,
			UserID:       activity.UserID,
			ProjectName:  activity.ProjectName,
			ActivityType: activity.ActivityType,
			Description:  activity.Description,
			Source:       activity.Source(),
			Tool:         activity.Tool(),
			Machine:      activity.Machine(),
			RawKind:      activity.RawKind,
			RawID:        activity.RawID,
			CreatedAt:    activity.CreatedAt,
		},
	})
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordActivityPersisted(activity.IngestedAt)
	return nil
}

// Get retrieves an activity by ID.
func (r *Repository) Get(ctx context.Context, activityID string) (*domain.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activity_log WHERE activity_id::text=$1`, activityID)
	activity, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// List returns activities newest first using keyset pagination on (created_at, activity_id).
func (r *Repository) List(ctx context.Context, filter domain.ListFilter, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []any{limit}
	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE TRUE`

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(` AND user_id=$%d`, len(args))
	}
	if filter.Project != "" {
		args = append(args, filter.Project)
		query += fmt.Sprintf(` AND project_name=$%d`, len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(` AND (created_at, activity_id::text) < ($%d, $%d)`, len(args)-1, len(args))
	}

	query += ` ORDER BY created_at DESC, activity_id::text DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// ProjectCounts aggregates a user's activities per project since the given instant.
// A zero since covers all history.
func (r *Repository) ProjectCounts(ctx context.Context, userID string, since time.Time) ([]domain.ProjectCount, error) {
	args := []any{userID}
	query := `SELECT project_name, COUNT(*), MAX(created_at) FROM activity_log WHERE user_id=$1`
	if !since.IsZero() {
		args = append(args, since)
		query += ` AND created_at >= $2`
	}
	query += ` GROUP BY project_name ORDER BY COUNT(*) DESC, project_name`
	return r.queryProjectCounts(ctx, query, args...)
}

// DistinctProjects lists every project name present in the activity log.
func (r *Repository) DistinctProjects(ctx context.Context) ([]domain.ProjectCount, error) {
	return r.queryProjectCounts(ctx, `SELECT project_name, COUNT(*), MAX(created_at) FROM activity_log GROUP BY project_name ORDER BY project_name`)
}

// RenameProject rewrites a project name in the activity log and the embedding
// hierarchy in one transaction, returning the number of activities updated.
func (r *Repository) RenameProject(ctx context.Context, from, to string) (updated int64, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `UPDATE activity_log SET project_name=$2 WHERE project_name=$1`, from, to)
	if err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, `UPDATE context_embeddings SET parent_name=$2 WHERE parent_name=$1`, from, to); err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) queryProjectCounts(ctx context.Context, query string, args ...any) ([]domain.ProjectCount, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.ProjectCount
	for rows.Next() {
		var pc domain.ProjectCount
		if err := rows.Scan(&pc.ProjectName, &pc.Activities, &pc.LastActivityAt); err != nil {
			return nil, err
		}
		pc.LastActivityAt = pc.LastActivityAt.UTC()
		counts = append(counts, pc)
	}
	return counts, rows.Err()
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var a domain.Activity
	var metadata []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.ProjectName, &a.ActivityType, &a.Description, &metadata, &a.RawKind, &a.RawID, &a.CreatedAt, &a.IngestedAt); err != nil {
		return domain.Activity{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return domain.Activity{}, fmt.Errorf("decode metadata for %s: %w", a.ID, err)
		}
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.IngestedAt = a.IngestedAt.UTC()
	return a, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
