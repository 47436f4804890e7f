package syncloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/flowstate/internal/domain"
)

// RedisCheckpointStore keeps checkpoints as JSON strings under a key prefix.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

type checkpointData struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRedisCheckpointStore connects to redisURL and verifies the connection.
func NewRedisCheckpointStore(redisURL string) (*RedisCheckpointStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCheckpointStoreWithClient(client), nil
}

// NewRedisCheckpointStoreWithClient wraps an existing client.
func NewRedisCheckpointStoreWithClient(client *redis.Client) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client, prefix: "flowstate:checkpoint:"}
}

func (s *RedisCheckpointStore) key(name string) string {
	return s.prefix + name
}

// Load returns the zero checkpoint when the source has none.
func (s *RedisCheckpointStore) Load(ctx context.Context, name string) (domain.Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Checkpoint{}, nil
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	var data checkpointData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return domain.Checkpoint{CreatedAt: data.CreatedAt.UTC(), ID: data.ID, UpdatedAt: data.UpdatedAt.UTC()}, nil
}

// Save stores the checkpoint without expiry.
func (s *RedisCheckpointStore) Save(ctx context.Context, name string, cp domain.Checkpoint) error {
	raw, err := json.Marshal(checkpointData{CreatedAt: cp.CreatedAt, ID: cp.ID, UpdatedAt: cp.UpdatedAt})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(name), raw, 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}
