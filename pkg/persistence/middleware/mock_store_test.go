package middleware_test

import (
	"context"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
type MockStore struct {
	data map[string]*flow.FlowContext
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]*flow.FlowContext),
	}
}

func (s *MockStore) Save(ctx context.Context, sessionID string, fc *flow.FlowContext) error {
	s.data[sessionID] = fc
	return nil
}

func (s *MockStore) Load(ctx context.Context, sessionID string) (*flow.FlowContext, error) {
	fc, ok := s.data[sessionID]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return fc, nil
}

func (s *MockStore) Delete(ctx context.Context, sessionID string) error {
	delete(s.data, sessionID)
	return nil
}

func (s *MockStore) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ ports.StateStore = (*MockStore)(nil)
