package store

import (
	"context"
	"fmt"

	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Write is one buffered entity mutation. A nil Props with Delete set removes
// the entity; otherwise the entity is created or replaced.
type Write struct {
	Ref    txdata.Ref
	Props  value.Object
	Delete bool
}

// ApplyBatch writes a batch of mutations atomically and returns the commit
// sequence number assigned to it. An empty batch is a no-op and returns the
// current sequence.
//
// Writes are applied in order; a later write to the same ref wins.
func (s *Store) ApplyBatch(ctx context.Context, writes []Write) (int64, error) {
	if len(writes) == 0 {
		return s.LastSeq(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("apply batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(updated_seq), 0) + 1 FROM entities
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("apply batch: next seq: %w", err)
	}

	for _, w := range writes {
		if w.Delete {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM entities WHERE kind = ? AND key = ?
			`, w.Ref.Kind, w.Ref.Key); err != nil {
				return 0, fmt.Errorf("apply batch: delete %s: %w", w.Ref, err)
			}
			continue
		}

		props, err := marshalProps(w.Props)
		if err != nil {
			return 0, fmt.Errorf("apply batch: %s: %w", w.Ref, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (kind, key, props, updated_seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(kind, key) DO UPDATE SET
				props = excluded.props,
				updated_seq = excluded.updated_seq
		`, w.Ref.Kind, w.Ref.Key, props, seq); err != nil {
			return 0, fmt.Errorf("apply batch: put %s: %w", w.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("apply batch: commit: %w", err)
	}

	return seq, nil
}

// LastSeq returns the highest commit sequence number present in the store.
// Deleted entities do not contribute, so the value can move backwards after
// deletes; it is used for reporting only.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(updated_seq), 0) FROM entities
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}
