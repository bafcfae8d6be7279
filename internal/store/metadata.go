package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCorruptMetadata is returned when a module's metadata row exists but
// cannot be trusted (no fingerprint or no initialization time).
var ErrCorruptMetadata = errors.New("corrupt module metadata")

// ModuleMetadata is the persisted record of a module's last initialization.
type ModuleMetadata struct {
	ModuleID          string
	Fingerprint       string
	LastInitializedAt time.Time

	// NeedsInitializationAt is set when the module reported drift. Zero
	// means no reinitialization is pending.
	NeedsInitializationAt time.Time
}

// NeedsInitialization reports whether a reinitialization is pending.
func (m ModuleMetadata) NeedsInitialization() bool {
	return !m.NeedsInitializationAt.IsZero()
}

// ReadModuleMetadata returns the metadata of a module.
// Returns (nil, nil) if no record exists, and an error wrapping
// ErrCorruptMetadata if the record is unusable.
func (s *Store) ReadModuleMetadata(ctx context.Context, moduleID string) (*ModuleMetadata, error) {
	var (
		md          = ModuleMetadata{ModuleID: moduleID}
		lastInit    int64
		needsInitAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, last_initialized_at, needs_init_at
		FROM module_metadata
		WHERE module_id = ?
	`, moduleID).Scan(&md.Fingerprint, &lastInit, &needsInitAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata %q: %w", moduleID, err)
	}

	if md.Fingerprint == "" || lastInit == 0 {
		return nil, fmt.Errorf("read metadata %q: %w", moduleID, ErrCorruptMetadata)
	}

	md.LastInitializedAt = fromMillis(lastInit)
	if needsInitAt.Valid {
		md.NeedsInitializationAt = fromMillis(needsInitAt.Int64)
	}
	return &md, nil
}

// PersistModuleMetadata creates or replaces a module's metadata record,
// including its pending-reinitialization mark.
func (s *Store) PersistModuleMetadata(ctx context.Context, md ModuleMetadata) error {
	if md.ModuleID == "" {
		return fmt.Errorf("persist metadata: empty module id")
	}

	var needsInitAt sql.NullInt64
	if !md.NeedsInitializationAt.IsZero() {
		needsInitAt = sql.NullInt64{Int64: toMillis(md.NeedsInitializationAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_metadata (module_id, fingerprint, last_initialized_at, needs_init_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			last_initialized_at = excluded.last_initialized_at,
			needs_init_at = excluded.needs_init_at
	`, md.ModuleID, md.Fingerprint, toMillis(md.LastInitializedAt), needsInitAt)
	if err != nil {
		return fmt.Errorf("persist metadata %q: %w", md.ModuleID, err)
	}
	return nil
}

// MarkNeedsInitialization records that a module must be reinitialized at
// the next start. The earliest mark wins. It reports false when the module
// has no record: such a module is initialized at the next start anyway, and
// a record only exists for a module that initialized successfully.
func (s *Store) MarkNeedsInitialization(ctx context.Context, moduleID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE module_metadata
		SET needs_init_at = COALESCE(needs_init_at, ?)
		WHERE module_id = ?
	`, toMillis(at), moduleID)
	if err != nil {
		return false, fmt.Errorf("mark needs initialization %q: %w", moduleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark needs initialization %q: %w", moduleID, err)
	}
	return n > 0, nil
}

// RemoveModuleMetadata deletes a module's metadata and timer context.
// Removing a missing module is not an error.
func (s *Store) RemoveModuleMetadata(ctx context.Context, moduleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove metadata %q: begin tx: %w", moduleID, err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM module_metadata WHERE module_id = ?`, moduleID); err != nil {
		return fmt.Errorf("remove metadata %q: %w", moduleID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM timer_contexts WHERE module_id = ?`, moduleID); err != nil {
		return fmt.Errorf("remove timer context %q: %w", moduleID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove metadata %q: commit: %w", moduleID, err)
	}
	return nil
}

// ModuleIDs returns the ids of every module with a metadata record, sorted.
func (s *Store) ModuleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id FROM module_metadata ORDER BY module_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list module ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan module id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module ids: %w", err)
	}
	return ids, nil
}

// ReadAllModuleMetadata returns every metadata row ordered by module id,
// corrupt rows included as-is. Used for status reporting.
func (s *Store) ReadAllModuleMetadata(ctx context.Context) ([]ModuleMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, fingerprint, last_initialized_at, needs_init_at
		FROM module_metadata
		ORDER BY module_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	out := []ModuleMetadata{}
	for rows.Next() {
		var (
			md          ModuleMetadata
			lastInit    int64
			needsInitAt sql.NullInt64
		)
		if err := rows.Scan(&md.ModuleID, &md.Fingerprint, &lastInit, &needsInitAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		md.LastInitializedAt = fromMillis(lastInit)
		if needsInitAt.Valid {
			md.NeedsInitializationAt = fromMillis(needsInitAt.Int64)
		}
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return out, nil
}
