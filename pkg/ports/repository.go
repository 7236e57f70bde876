package ports

import (
	"context"
	"errors"

	"github.com/palaverhq/palaver/pkg/flow"
)

// ErrFlowNotFound is returned when a flow id is unknown to the
// repository.
var ErrFlowNotFound = errors.New("flow not found")

// ErrVersionConflict is returned by UpdateWithVersioning when the base
// version is stale: someone else committed first. Callers must re-fetch
// and re-apply; the edit was not merged.
var ErrVersionConflict = errors.New("flow version conflict")

// FlowRepository stores flow definitions with immutable version history
// and a movable current pointer. Every committed mutation creates a new
// version row; the repository never overwrites history.
type FlowRepository interface {
	// Load returns the current definition of a flow and its version.
	Load(ctx context.Context, flowID string) (*flow.Flow, int64, error)

	// UpdateWithVersioning commits a new definition as a fresh version
	// and advances the current pointer. baseVersion is the version the
	// caller edited against; a mismatch yields ErrVersionConflict.
	UpdateWithVersioning(ctx context.Context, flowID string, def *flow.Flow, changeDescription, createdBy string, baseVersion int64) (int64, error)
}

// FlowVersion is one row of a flow's history, exposed by repositories
// that support listing.
type FlowVersion struct {
	FlowID            string `json:"flow_id"`
	Version           int64  `json:"version"`
	ChangeDescription string `json:"change_description"`
	CreatedBy         string `json:"created_by"`
	CreatedAt         string `json:"created_at"`
}

// VersionLister is an optional repository extension for audit tooling.
type VersionLister interface {
	ListVersions(ctx context.Context, flowID string) ([]FlowVersion, error)
}
