package modify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/palaverhq/palaver/internal/logging"
	"github.com/palaverhq/palaver/pkg/compiler"
	"github.com/palaverhq/palaver/pkg/guard"
	"github.com/palaverhq/palaver/pkg/ports"
)

// Service runs edit batches against a versioned flow repository.
type Service struct {
	repo    ports.FlowRepository
	guards  *guard.Registry
	logger  *slog.Logger
	observe func(err error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithObserver registers a callback invoked after every batch with its
// outcome error (nil when the batch validated or committed).
func WithObserver(fn func(err error)) ServiceOption {
	return func(s *Service) { s.observe = fn }
}

// NewService wires the service to its repository and the guard registry
// used for re-validation.
func NewService(repo ports.FlowRepository, guards *guard.Registry, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, guards: guards, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchOptions carries the audit trail and concurrency expectations of
// one batch.
type BatchOptions struct {
	// ChangeDescription is stored with the new version. Empty means a
	// description is synthesized from the batch.
	ChangeDescription string

	// CreatedBy identifies the author (admin id, agent name).
	CreatedBy string

	// BaseVersion is the version the editor believes is current. Zero
	// means "whatever Load returned". A stale base surfaces as
	// ports.ErrVersionConflict from the commit, never as a partial
	// write.
	BaseVersion int64

	// DryRun validates the batch without committing.
	DryRun bool
}

// BatchResult reports a committed (or dry-run validated) batch.
type BatchResult struct {
	FlowID      string                `json:"flow_id"`
	BaseVersion int64                 `json:"base_version"`
	NewVersion  int64                 `json:"new_version"`
	Applied     int                   `json:"applied"`
	Warnings    []compiler.Diagnostic `json:"warnings,omitempty"`
}

// ApplyBatch applies the actions in order to a working copy of the
// flow, re-compiles the result, and commits exactly one new version.
// Any action failure or compile error discards the whole batch; the
// stored definition is untouched and the error carries the 0-based
// failing index.
func (s *Service) ApplyBatch(ctx context.Context, flowID string, actions []Action, opts BatchOptions) (res *BatchResult, err error) {
	if s.observe != nil {
		defer func() { s.observe(err) }()
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("empty batch for flow %q", flowID)
	}

	def, version, err := s.repo.Load(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("load flow %q: %w", flowID, err)
	}
	base := opts.BaseVersion
	if base == 0 {
		base = version
	}

	work := def.Clone()
	for i, a := range actions {
		work, err = apply(work, a)
		if err != nil {
			s.logger.Warn("batch rejected", "flow", flowID, "action", i, "type", a.Type, "error", err)
			return nil, &BatchError{Index: i, Type: a.Type, Reason: err.Error()}
		}
	}

	_, diags, err := compiler.Compile(work, s.guards)
	if err != nil {
		s.logger.Warn("batch rejected by recompile", "flow", flowID, "error", err)
		return nil, &BatchError{Index: CompileIndex, Type: "compile", Reason: err.Error()}
	}

	result := &BatchResult{
		FlowID:      flowID,
		BaseVersion: base,
		NewVersion:  base,
		Applied:     len(actions),
	}
	for _, d := range diags {
		if d.Severity == compiler.SeverityWarning {
			result.Warnings = append(result.Warnings, d)
		}
	}
	if opts.DryRun {
		return result, nil
	}

	desc := opts.ChangeDescription
	if desc == "" {
		desc = describeBatch(actions)
	}
	newVersion, err := s.repo.UpdateWithVersioning(ctx, flowID, work, desc, opts.CreatedBy, base)
	if err != nil {
		return nil, fmt.Errorf("commit flow %q: %w", flowID, err)
	}
	result.NewVersion = newVersion

	s.logger.Info("flow updated",
		"flow", flowID, "actions", len(actions),
		"base_version", base, "new_version", newVersion, "by", opts.CreatedBy)
	return result, nil
}

// describeBatch synthesizes a change description. A wholesale
// replacement is always described as such, never as its sub-edits.
func describeBatch(actions []Action) string {
	for _, a := range actions {
		if a.Type == ActionSetEntireFlow {
			return "replaced entire flow definition"
		}
	}
	counts := make(map[string]int)
	for _, a := range actions {
		counts[a.Type]++
	}
	return fmt.Sprintf("applied %d edits (%d add_node, %d update_node, %d delete_node, %d add_edge, %d delete_edge)",
		len(actions), counts[ActionAddNode], counts[ActionUpdateNode],
		counts[ActionDeleteNode], counts[ActionAddEdge], counts[ActionDeleteEdge])
}
