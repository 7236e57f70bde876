// Package sqlite stores flow definitions with immutable version
// history in SQLite, using the pure-Go driver so hosts stay cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/ports"
)

// Repository implements ports.FlowRepository on SQLite: a `flows`
// current-pointer table plus append-only `flow_versions` rows.
// Optimistic concurrency on the base version happens inside one
// transaction.
type Repository struct {
	db *sql.DB
}

var _ ports.FlowRepository = (*Repository)(nil)
var _ ports.VersionLister = (*Repository)(nil)

// Open opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for tests.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return NewRepository(db)
}

// NewRepository wraps an existing database handle.
func NewRepository(db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.initSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			id              TEXT PRIMARY KEY,
			current_version INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS flow_versions (
			flow_id            TEXT    NOT NULL,
			version            INTEGER NOT NULL,
			definition         BLOB    NOT NULL,
			change_description TEXT    NOT NULL DEFAULT '',
			created_by         TEXT    NOT NULL DEFAULT '',
			created_at         TEXT    NOT NULL,
			PRIMARY KEY (flow_id, version)
		);`,
	)
	return err
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Seed inserts a flow at version 1 unless it already exists.
func (r *Repository) Seed(ctx context.Context, f *flow.Flow) error {
	data, err := flow.Encode(f)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT current_version FROM flows WHERE id = ?`, f.ID).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flow_versions (flow_id, version, definition, change_description, created_at)
		 VALUES (?, 1, ?, 'initial definition', ?)`, f.ID, data, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flows (id, current_version) VALUES (?, 1)`, f.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// Load returns the current definition and version of a flow.
func (r *Repository) Load(ctx context.Context, flowID string) (*flow.Flow, int64, error) {
	var version int64
	var data []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT f.current_version, v.definition
		FROM flows f
		JOIN flow_versions v ON v.flow_id = f.id AND v.version = f.current_version
		WHERE f.id = ?`, flowID).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ports.ErrFlowNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load flow %q: %w", flowID, err)
	}
	def, err := flow.Parse(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode flow %q version %d: %w", flowID, version, err)
	}
	return def, version, nil
}

// UpdateWithVersioning appends a new version and advances the current
// pointer, rejecting stale bases with ports.ErrVersionConflict.
func (r *Repository) UpdateWithVersioning(ctx context.Context, flowID string, def *flow.Flow, changeDescription, createdBy string, baseVersion int64) (int64, error) {
	data, err := flow.Encode(def)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT current_version FROM flows WHERE id = ?`, flowID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ports.ErrFlowNotFound
	}
	if err != nil {
		return 0, err
	}
	if baseVersion != current {
		return 0, fmt.Errorf("flow %q: base %d, current %d: %w",
			flowID, baseVersion, current, ports.ErrVersionConflict)
	}

	next := current + 1
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flow_versions (flow_id, version, definition, change_description, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		flowID, next, data, changeDescription, createdBy, now); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE flows SET current_version = ? WHERE id = ?`, next, flowID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// ListVersions returns a flow's history, oldest first.
func (r *Repository) ListVersions(ctx context.Context, flowID string) ([]ports.FlowVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT flow_id, version, change_description, created_by, created_at
		FROM flow_versions WHERE flow_id = ? ORDER BY version`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ports.FlowVersion
	for rows.Next() {
		var v ports.FlowVersion
		if err := rows.Scan(&v.FlowID, &v.Version, &v.ChangeDescription, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ports.ErrFlowNotFound
	}
	return out, nil
}

// LoadVersion returns one historical definition.
func (r *Repository) LoadVersion(ctx context.Context, flowID string, version int64) (*flow.Flow, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT definition FROM flow_versions WHERE flow_id = ? AND version = ?`,
		flowID, version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return flow.Parse(data)
}
