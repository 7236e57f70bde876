package ports

import (
	"context"
	"errors"

	"github.com/palaverhq/palaver/pkg/flow"
)

// ErrSessionNotFound is returned when a session key cannot be found in
// the store.
var ErrSessionNotFound = errors.New("session not found")

// StateStore persists per-session conversation state between turns.
// Implementations must provide read-your-writes isolation per session
// key; no cross-session visibility is required.
type StateStore interface {
	// Save persists the context for a given session key.
	Save(ctx context.Context, sessionID string, fc *flow.FlowContext) error

	// Load retrieves the context for a given session key.
	// Returns ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*flow.FlowContext, error)

	// Delete removes the context for a given session key.
	Delete(ctx context.Context, sessionID string) error

	// List returns the known session keys.
	List(ctx context.Context) ([]string, error)
}
