package providers

import (
	"context"
	"errors"

	"github.com/medigate/navigator/internal/domain/entities"
)

// ErrSessionNotFound is returned by Load when no workflow state exists for
// the given id. Callers use it to distinguish a fresh visit from a session
// evicted between requests.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore externalizes workflow state so a request served by a
// different, memory-less instance can pick the workflow back up. State is
// parked with a TTL; expiry or eviction shows up as ErrSessionNotFound.
type SessionStore interface {
	// Save parks the workflow state under its id
	Save(ctx context.Context, state *entities.WorkflowState) error

	// Load retrieves the workflow state for an id, or ErrSessionNotFound
	Load(ctx context.Context, id string) (*entities.WorkflowState, error)

	// Delete discards the workflow state for an id
	Delete(ctx context.Context, id string) error
}
