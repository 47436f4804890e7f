package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
)

// Source names used as checkpoint keys.
const (
	MemorySourceName    = "claude_desktop_memory"
	EmbeddingSourceName = "context_embeddings"
)

var memoryTypeDescriptions = map[string]string{
	"conversation_summary": "AI conversation session",
	"technical_solution":   "Implemented technical solution",
	"project_update":       "Project status update",
	"bug_fix":              "Fixed a bug",
	"feature":              "Worked on a feature",
	"deployment":           "Deployment activity",
	"documentation":        "Updated documentation",
	"critical_update":      "Critical update",
}

// Embedding types that describe the knowledge base itself rather than work done.
var skippedEmbeddingTypes = []string{"activity", "critical_documentation", "system_message", "configuration"}

// MemorySource reads new rows from the desktop memory table.
type MemorySource struct {
	pool *pgxpool.Pool
}

// NewMemorySource constructs a MemorySource.
func NewMemorySource(pool *pgxpool.Pool) *MemorySource {
	return &MemorySource{pool: pool}
}

// Name identifies the source for checkpointing.
func (s *MemorySource) Name() string { return MemorySourceName }

// Fetch returns up to limit memories strictly after the checkpoint, oldest first.
func (s *MemorySource) Fetch(ctx context.Context, after domain.Checkpoint, limit int) ([]normalize.RawInputRecord, error) {
	afterID, err := memoryCursorID(after.ID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, memory_type, category, source, content, metadata, created_at
           FROM claude_desktop_memory
          WHERE (created_at, id) > ($1, $2)
          ORDER BY created_at, id
          LIMIT $3`,
		after.CreatedAt, afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []normalize.RawInputRecord
	for rows.Next() {
		var (
			id                              int64
			memoryType, category, src, body string
			rawMeta                         []byte
			createdAt                       time.Time
		)
		if err := rows.Scan(&id, &memoryType, &category, &src, &body, &rawMeta, &createdAt); err != nil {
			return nil, err
		}
		meta, err := decodeMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("memory %d: %w", id, err)
		}
		setDefault(meta, "source", src)
		setDefault(meta, "memory_type", memoryType)
		setDefault(meta, "category", category)

		records = append(records, normalize.RawInputRecord{
			ID:          strconv.FormatInt(id, 10),
			Kind:        normalize.KindMemory,
			Content:     body,
			Description: memoryTypeDescriptions[memoryType],
			Metadata:    meta,
			Timestamp:   createdAt.UTC(),
		})
	}
	return records, rows.Err()
}

func memoryCursorID(id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory checkpoint id %q: %w", id, err)
	}
	return n, nil
}

// EmbeddingSource reads new rows from the context embedding table.
type EmbeddingSource struct {
	pool *pgxpool.Pool
}

// NewEmbeddingSource constructs an EmbeddingSource.
func NewEmbeddingSource(pool *pgxpool.Pool) *EmbeddingSource {
	return &EmbeddingSource{pool: pool}
}

// Name identifies the source for checkpointing.
func (s *EmbeddingSource) Name() string { return EmbeddingSourceName }

// Fetch returns up to limit embeddings strictly after the checkpoint, oldest first.
func (s *EmbeddingSource) Fetch(ctx context.Context, after domain.Checkpoint, limit int) ([]normalize.RawInputRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, type, name, COALESCE(parent_name, ''), content, metadata, created_at
           FROM context_embeddings
          WHERE (created_at, id::text) > ($1, $2)
            AND type <> ALL($3)
          ORDER BY created_at, id::text
          LIMIT $4`,
		after.CreatedAt, after.ID, skippedEmbeddingTypes, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []normalize.RawInputRecord
	for rows.Next() {
		var (
			id, typ, name, parent, body string
			rawMeta                     []byte
			createdAt                   time.Time
		)
		if err := rows.Scan(&id, &typ, &name, &parent, &body, &rawMeta, &createdAt); err != nil {
			return nil, err
		}
		meta, err := decodeMetadata(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", id, err)
		}
		setDefault(meta, "embedding_type", typ)
		setDefault(meta, "name", name)
		if meta["project"] == nil && meta["project_name"] == nil {
			if typ == "project" {
				setDefault(meta, "project", name)
			} else {
				setDefault(meta, "project", parent)
			}
		}

		content := body
		if strings.TrimSpace(content) == "" {
			content = name
		}
		records = append(records, normalize.RawInputRecord{
			ID:        id,
			Kind:      normalize.KindEmbedding,
			Content:   content,
			Metadata:  meta,
			Timestamp: createdAt.UTC(),
		})
	}
	return records, rows.Err()
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	meta := map[string]any{}
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

func setDefault(meta map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, ok := meta[key]; !ok {
		meta[key] = value
	}
}
