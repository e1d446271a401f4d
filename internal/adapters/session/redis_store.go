package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/providers"
	redisclient "github.com/medigate/navigator/internal/infrastructure/clients/redis"
)

const keyPrefix = "workflow:v1:"

// RedisStore implements the SessionStore interface on Redis. Workflow state
// is serialized as JSON under a TTL so an abandoned workflow expires instead
// of lingering with the user's health text in it.
type RedisStore struct {
	client *redisclient.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(client *redisclient.Client, ttlSeconds int) providers.SessionStore {
	if ttlSeconds <= 0 {
		ttlSeconds = 1800
	}
	return &RedisStore{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

// Save parks the workflow state under its id
func (s *RedisStore) Save(ctx context.Context, state *entities.WorkflowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize workflow state: %w", err)
	}
	if err := s.client.Client().Set(ctx, keyPrefix+state.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}
	return nil
}

// Load retrieves the workflow state for an id
func (s *RedisStore) Load(ctx context.Context, id string) (*entities.WorkflowState, error) {
	payload, err := s.client.Client().Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, providers.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow state: %w", err)
	}

	var state entities.WorkflowState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to deserialize workflow state: %w", err)
	}
	return &state, nil
}

// Delete discards the workflow state for an id
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Client().Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete workflow state: %w", err)
	}
	return nil
}
