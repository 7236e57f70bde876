/*
Package session serializes access to per-conversation state.

The engine requires that at most one turn per session executes at a
time. The Manager enforces this inside one process with ref-counted
per-session mutexes (garbage collected when idle) and, optionally,
across processes with a distributed locker.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/palaverhq/palaver/internal/logging"
	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

// lockEntry holds a session's mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access over a StateStore.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking for multi-process hosts.
func WithLocker(locker ports.Locker) Option {
	return func(m *Manager) { m.locker = locker }
}

// WithLockTTL sets the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.lockTTL = ttl }
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager over the given store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its refcount.
// Callers lock entry.mu and pair with release(sessionID).
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[sessionID]
	if !ok {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the refcount and drops the entry at zero, so idle
// sessions do not leak mutexes.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.locks[sessionID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock runs fn while holding the session's lock, both locally and,
// when a distributed locker is configured, across processes.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID, "err", err)
			}
		}()
	}
	return fn(ctx)
}

// Turn executes one engine turn under the session lock: load the
// current context (nil for a fresh session), run fn, persist the
// context fn returns.
func (m *Manager) Turn(ctx context.Context, sessionID string, fn func(context.Context, *flow.FlowContext) (*flow.FlowContext, error)) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		fc, err := m.store.Load(ctx, sessionID)
		if err != nil && !errors.Is(err, ports.ErrSessionNotFound) {
			return fmt.Errorf("failed to load session: %w", err)
		}
		next, err := fn(ctx, fc)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if err := m.store.Save(ctx, sessionID, next); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		return nil
	})
}

// Load retrieves an existing session.
func (m *Manager) Load(ctx context.Context, sessionID string) (*flow.FlowContext, error) {
	var fc *flow.FlowContext
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		fc, err = m.store.Load(ctx, sessionID)
		return err
	})
	return fc, err
}

// LoadOrStart loads a session, creating and persisting a fresh context
// at the flow's entry when none exists.
func (m *Manager) LoadOrStart(ctx context.Context, sessionID, flowID, entry string) (*flow.FlowContext, error) {
	var fc *flow.FlowContext
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		fc, err = m.store.Load(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ports.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		fc = flow.NewContext(flowID, entry)
		if err := m.store.Save(ctx, sessionID, fc); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		return nil
	})
	return fc, err
}

// Save persists the session under its lock.
func (m *Manager) Save(ctx context.Context, sessionID string, fc *flow.FlowContext) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Save(ctx, sessionID, fc)
	})
}

// Delete removes the session.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}
