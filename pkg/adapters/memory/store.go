// Package memory provides in-process adapters: a StateStore and a
// versioned FlowRepository. They are the defaults for tests, the CLI
// chat loop, and single-process embedding.
package memory

import (
	"context"
	"sync"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]*flow.FlowContext
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: make(map[string]*flow.FlowContext)}
}

// Save keeps a deep copy so callers cannot mutate stored state through
// retained pointers.
func (s *Store) Save(_ context.Context, sessionID string, fc *flow.FlowContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = fc.Clone()
	return nil
}

// Load returns a copy of the stored context.
func (s *Store) Load(_ context.Context, sessionID string) (*flow.FlowContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fc, ok := s.data[sessionID]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return fc.Clone(), nil
}

// Delete removes the session.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns the known session ids.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	return sessions, nil
}
