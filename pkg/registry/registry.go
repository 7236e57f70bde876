// Package registry manages the side-effect handlers Action nodes
// dispatch to.
//
// Handlers are registered by action_type. The action_config declared on
// the node is passed through; handlers that want typed configuration
// decode it with DecodeConfig. Handler results are written into the
// session's answers under the node's output_keys.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/palaverhq/palaver/pkg/flow"
)

// Handler is one registered side effect. It receives the session state
// read-only and the node's action_config, and returns named results.
type Handler func(ctx context.Context, fc *flow.FlowContext, config map[string]any) (map[string]any, error)

// Registry manages the available action handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for an action type.
// If a handler with the same type exists, it is overwritten.
func (r *Registry) Register(actionType string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = fn
}

// Has reports whether a handler is registered for the action type.
func (r *Registry) Has(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionType]
	return ok
}

// Execute looks up a handler by action type and runs it.
// Returns an error if no handler is registered.
func (r *Registry) Execute(ctx context.Context, actionType string, fc *flow.FlowContext, config map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[actionType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("action handler not found: %s", actionType)
	}
	return fn(ctx, fc, config)
}

// DecodeConfig maps a loosely-typed action_config onto a typed struct.
func DecodeConfig(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("invalid action config: %w", err)
	}
	return nil
}
