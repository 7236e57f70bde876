package palaver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/palaverhq/palaver/internal/logging"
	"github.com/palaverhq/palaver/internal/runtime"
	"github.com/palaverhq/palaver/pkg/adapters/memory"
	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/modify"
	"github.com/palaverhq/palaver/pkg/ports"
	"github.com/palaverhq/palaver/pkg/registry"
	"github.com/palaverhq/palaver/pkg/session"
)

// Engine is the high-level entry point for the library. It wraps the
// internal turn runtime with versioned flow loading, per-session
// locking, and a modification service, so hosts only deal with
// sessions, events, and outputs.
type Engine struct {
	runtime  *runtime.Engine
	sessions *session.Manager
	repo     ports.FlowRepository
	guards   *guard.Registry
	actions  *registry.Registry
	modifier *modify.Service
	logger   *slog.Logger

	mu       sync.RWMutex
	compiled map[string]*compiledEntry

	// construction state
	store        ports.StateStore
	locker       ports.Locker
	llm          ports.LLMClient
	hooks        runtime.Hooks
	runtimeOpts  []runtime.Option
	observeTurn  func(start time.Time)
	observeBatch func(err error)
}

// compiledEntry caches one flow's compilation keyed by its repository
// version; a version bump invalidates it.
type compiledEntry struct {
	cf      *compiler.CompiledFlow
	version int64
}

// Option configures the Engine.
type Option func(*Engine)

// WithStateStore sets the session state backend. Defaults to the
// in-memory store.
func WithStateStore(store ports.StateStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithLocker enables distributed session locking for multi-process
// deployments sharing one state store.
func WithLocker(locker ports.Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

// WithLLM injects the LLM used for ambiguous branching and answer
// extraction. Without one, routing is strictly guard-driven.
func WithLLM(client ports.LLMClient) Option {
	return func(e *Engine) { e.llm = client }
}

// WithGuards replaces the default guard registry.
func WithGuards(g *guard.Registry) Option {
	return func(e *Engine) { e.guards = g }
}

// WithActions sets the action handler registry.
func WithActions(r *registry.Registry) Option {
	return func(e *Engine) { e.actions = r }
}

// WithHooks registers observability hooks on the turn runtime.
func WithHooks(h runtime.Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTurnObserver registers a callback invoked after every completed
// Turn with the turn's start time, successful or not. Metrics backends
// use it to record turn latency.
func WithTurnObserver(fn func(start time.Time)) Option {
	return func(e *Engine) { e.observeTurn = fn }
}

// WithBatchObserver registers a callback invoked after every
// modification batch with its outcome error (nil on commit).
func WithBatchObserver(fn func(err error)) Option {
	return func(e *Engine) { e.observeBatch = fn }
}

// WithLLMRetryPolicy tunes LLM retry count and per-call timeout.
func WithLLMRetryPolicy(retries int, timeout time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithLLMRetryPolicy(retries, timeout))
	}
}

// New builds an Engine over a flow repository.
func New(repo ports.FlowRepository, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("flow repository is required")
	}
	e := &Engine{
		repo:     repo,
		compiled: make(map[string]*compiledEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.guards == nil {
		e.guards = guard.NewRegistry()
	}
	if e.actions == nil {
		e.actions = registry.New()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	rtOpts := []runtime.Option{
		runtime.WithLogger(e.logger),
		runtime.WithActions(e.actions),
		runtime.WithHooks(e.hooks),
	}
	if e.llm != nil {
		rtOpts = append(rtOpts, runtime.WithLLM(e.llm))
	}
	rtOpts = append(rtOpts, e.runtimeOpts...)
	e.runtime = runtime.New(e.guards, rtOpts...)

	sessOpts := []session.Option{session.WithLogger(e.logger)}
	if e.locker != nil {
		sessOpts = append(sessOpts, session.WithLocker(e.locker))
	}
	e.sessions = session.NewManager(e.store, sessOpts...)

	modOpts := []modify.ServiceOption{modify.WithLogger(e.logger)}
	if e.observeBatch != nil {
		modOpts = append(modOpts, modify.WithObserver(e.observeBatch))
	}
	e.modifier = modify.NewService(e.repo, e.guards, modOpts...)
	return e, nil
}

// Turn processes one conversational event for a session and returns
// the engine's output. A missing session is created at the flow's
// entry node. Turns for the same session are serialized.
func (e *Engine) Turn(ctx context.Context, sessionID, flowID string, ev Event) (*Output, error) {
	if e.observeTurn != nil {
		defer e.observeTurn(time.Now())
	}
	cf, _, err := e.Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	var out *Output
	err = e.sessions.Turn(ctx, sessionID, func(ctx context.Context, fc *flow.FlowContext) (*flow.FlowContext, error) {
		if fc == nil {
			fc = flow.NewContext(flowID, cf.Entry)
		}
		next, o, err := e.runtime.Step(ctx, cf, fc, ev)
		if err != nil {
			return nil, err
		}
		out = o
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Start begins (or re-renders) a session: it emits the current prompt
// without consuming user input.
func (e *Engine) Start(ctx context.Context, sessionID, flowID string) (*Output, error) {
	return e.Turn(ctx, sessionID, flowID, Begin{})
}

// Session returns the persisted state of a session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*flow.FlowContext, error) {
	return e.sessions.Load(ctx, sessionID)
}

// EndSession removes a session's persisted state.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, sessionID)
}

// Sessions lists the known session ids.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Flow returns the compiled current version of a flow. Compilations
// are cached per version; a repository commit invalidates the cache on
// the next call.
func (e *Engine) Flow(ctx context.Context, flowID string) (*compiler.CompiledFlow, int64, error) {
	def, version, err := e.repo.Load(ctx, flowID)
	if err != nil {
		return nil, 0, err
	}

	e.mu.RLock()
	entry, ok := e.compiled[flowID]
	e.mu.RUnlock()
	if ok && entry.version == version {
		return entry.cf, version, nil
	}

	cf, diags, err := compiler.Compile(def, e.guards)
	if err != nil {
		return nil, 0, fmt.Errorf("compile flow %q v%d: %w", flowID, version, err)
	}
	for _, d := range diags {
		if d.Severity == compiler.SeverityWarning {
			e.logger.Warn("flow diagnostic", "flow_id", flowID, "code", d.Code, "message", d.Message)
		}
	}

	e.mu.Lock()
	e.compiled[flowID] = &compiledEntry{cf: cf, version: version}
	e.mu.Unlock()
	return cf, version, nil
}

// Validate compiles the current version of a flow and returns its
// diagnostics without caching. Warnings are included even on success.
func (e *Engine) Validate(ctx context.Context, flowID string) ([]compiler.Diagnostic, error) {
	def, _, err := e.repo.Load(ctx, flowID)
	if err != nil {
		return nil, err
	}
	_, diags, err := compiler.Compile(def, e.guards)
	return diags, err
}

// Modifier exposes the flow modification service for batch edits.
func (e *Engine) Modifier() *modify.Service { return e.modifier }

// Guards exposes the guard registry for custom predicate registration.
func (e *Engine) Guards() *guard.Registry { return e.guards }

// Actions exposes the action handler registry.
func (e *Engine) Actions() *registry.Registry { return e.actions }

// Repository exposes the underlying flow repository.
func (e *Engine) Repository() ports.FlowRepository { return e.repo }

// Event is the closed set of turn inputs. See the concrete types for
// their semantics.
type Event = runtime.Event

// Re-exported event types so hosts never import internal packages.
type (
	Begin               = runtime.Begin
	Answer              = runtime.Answer
	UnknownAnswer       = runtime.UnknownAnswer
	SkipQuestion        = runtime.SkipQuestion
	RevisitQuestion     = runtime.RevisitQuestion
	PathCorrection      = runtime.PathCorrection
	RequestHumanHandoff = runtime.RequestHumanHandoff
	ProvideInformation  = runtime.ProvideInformation
	ConfirmCompletion   = runtime.ConfirmCompletion
	NavigateFlow        = runtime.NavigateFlow
	UpdateAnswers       = runtime.UpdateAnswers
)

// Output is the result of one turn.
type Output = runtime.Output

// Hooks are the runtime observability callbacks.
type Hooks = runtime.Hooks
