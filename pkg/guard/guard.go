// Package guard holds the closed, registrable set of edge predicates.
//
// Guards are pure functions of conversation state: no side effects, no
// I/O. Flows reference them by name; the compiler rejects names that
// are not registered, so an unknown guard at evaluation time is an
// internal-consistency failure rather than a silent false.
package guard

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/palaverhq/palaver/pkg/flow"
)

// Predicate evaluates a guard against the session state and the
// guard's declared arguments.
type Predicate func(ctx *flow.FlowContext, args map[string]any) (bool, error)

// Registry is a string-keyed predicate lookup. The built-in catalog is
// installed by NewRegistry; hosts may register additional predicates
// before compiling flows that name them.
type Registry struct {
	mu     sync.RWMutex
	fns    map[string]Predicate
	logger *slog.Logger
}

// Option configures the registry.
type Option func(*Registry)

// WithLogger sets the logger used to report predicate failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry returns a registry pre-loaded with the built-in catalog.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		fns:    make(map[string]Predicate),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a predicate.
func (r *Registry) Register(name string, fn Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Resolve looks up a predicate by name.
func (r *Registry) Resolve(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// Evaluate runs the referenced predicate against the session state.
//
// An unregistered fn is an error: compilation should have caught it, so
// hitting one here means the compiled flow and the registry are out of
// sync. A predicate that itself fails (error or panic) is logged and
// treated as false; a broken guard must never crash a turn.
func (r *Registry) Evaluate(ref *flow.GuardRef, ctx *flow.FlowContext) (result bool, err error) {
	if ref == nil {
		return true, nil
	}
	fn, ok := r.Resolve(ref.Fn)
	if !ok {
		return false, fmt.Errorf("guard %q is not registered", ref.Fn)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("guard predicate panicked, treating as false", "fn", ref.Fn, "panic", rec)
			result, err = false, nil
		}
	}()

	ok, perr := fn(ctx, ref.Args)
	if perr != nil {
		r.logger.Warn("guard predicate failed, treating as false", "fn", ref.Fn, "err", perr)
		return false, nil
	}
	return ok, nil
}
