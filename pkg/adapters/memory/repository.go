package memory

import (
	"context"
	"sync"
	"time"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

// Repository implements ports.FlowRepository in memory with full
// version history.
type Repository struct {
	mu    sync.RWMutex
	flows map[string]*flowRecord
}

type flowRecord struct {
	current *flow.Flow
	version int64
	history []ports.FlowVersion
}

// NewRepository creates a repository seeded with the given flows, each
// at version 1.
func NewRepository(seed ...*flow.Flow) *Repository {
	r := &Repository{flows: make(map[string]*flowRecord)}
	for _, f := range seed {
		r.Put(f)
	}
	return r
}

// Put registers or replaces a flow at version 1, wiping its history.
// Meant for host startup, not for edits; edits go through
// UpdateWithVersioning.
func (r *Repository) Put(f *flow.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.ID] = &flowRecord{
		current: f.Clone(),
		version: 1,
		history: []ports.FlowVersion{{
			FlowID:            f.ID,
			Version:           1,
			ChangeDescription: "initial definition",
			CreatedAt:         time.Now().UTC().Format(time.RFC3339),
		}},
	}
}

// Load returns a copy of the current definition and its version.
func (r *Repository) Load(_ context.Context, flowID string) (*flow.Flow, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.flows[flowID]
	if !ok {
		return nil, 0, ports.ErrFlowNotFound
	}
	return rec.current.Clone(), rec.version, nil
}

// UpdateWithVersioning commits a new version, refusing stale bases.
func (r *Repository) UpdateWithVersioning(_ context.Context, flowID string, def *flow.Flow, changeDescription, createdBy string, baseVersion int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.flows[flowID]
	if !ok {
		return 0, ports.ErrFlowNotFound
	}
	if baseVersion != rec.version {
		return 0, ports.ErrVersionConflict
	}
	rec.current = def.Clone()
	rec.version++
	rec.history = append(rec.history, ports.FlowVersion{
		FlowID:            flowID,
		Version:           rec.version,
		ChangeDescription: changeDescription,
		CreatedBy:         createdBy,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
	})
	return rec.version, nil
}

// ListVersions returns the flow's history, oldest first.
func (r *Repository) ListVersions(_ context.Context, flowID string) ([]ports.FlowVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.flows[flowID]
	if !ok {
		return nil, ports.ErrFlowNotFound
	}
	out := make([]ports.FlowVersion, len(rec.history))
	copy(out, rec.history)
	return out, nil
}
