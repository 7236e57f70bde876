// Package ports defines the boundary interfaces of the engine.
//
// The core is deterministic and testable because everything that talks
// to the outside world — the LLM, the session-state store, the
// versioned flow repository, distributed locking — enters through one
// of these narrow contracts. Adapters live under pkg/adapters; tests
// inject scripted fakes.
package ports
