package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/providers"
)

// MemoryStore implements the SessionStore interface in process memory. Used
// for development and tests; state stored here does not survive the process,
// which is exactly the condition the continuity layer must detect.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore(ttlSeconds int) *MemoryStore {
	if ttlSeconds <= 0 {
		ttlSeconds = 1800
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     time.Duration(ttlSeconds) * time.Second,
	}
}

// Save parks the workflow state under its id
func (s *MemoryStore) Save(_ context.Context, state *entities.WorkflowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state.ID] = memoryEntry{
		payload:   payload,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Load retrieves the workflow state for an id
func (s *MemoryStore) Load(_ context.Context, id string) (*entities.WorkflowState, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, providers.ErrSessionNotFound
	}

	var state entities.WorkflowState
	if err := json.Unmarshal(entry.payload, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Delete discards the workflow state for an id
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Evict drops an entry without deleting it through the public API,
// simulating the serving layer forgetting a session between requests.
func (s *MemoryStore) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}
