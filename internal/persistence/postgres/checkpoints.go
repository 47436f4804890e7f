package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/flowstate/internal/domain"
)

// CheckpointStore keeps sync loop positions in the sync_checkpoints table.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore constructs a CheckpointStore.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Load returns the checkpoint for the named source, or the zero checkpoint when none exists.
func (s *CheckpointStore) Load(ctx context.Context, name string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT cursor_created_at, cursor_id, updated_at FROM sync_checkpoints WHERE name=$1`, name,
	).Scan(&cp.CreatedAt, &cp.ID, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkpoint{}, nil
	}
	if err != nil {
		return domain.Checkpoint{}, err
	}
	cp.CreatedAt = cp.CreatedAt.UTC()
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return cp, nil
}

// Save upserts the checkpoint for the named source.
func (s *CheckpointStore) Save(ctx context.Context, name string, cp domain.Checkpoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_checkpoints (name, cursor_created_at, cursor_id, updated_at)
         VALUES ($1,$2,$3,$4)
         ON CONFLICT (name) DO UPDATE SET cursor_created_at=EXCLUDED.cursor_created_at, cursor_id=EXCLUDED.cursor_id, updated_at=EXCLUDED.updated_at`,
		name, cp.CreatedAt, cp.ID, cp.UpdatedAt,
	)
	return err
}
