package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/txmod/internal/txdata"
)

// ReadEntity retrieves a single entity.
// Returns found=false if the entity does not exist.
func (s *Store) ReadEntity(ctx context.Context, ref txdata.Ref) (txdata.Entity, bool, error) {
	var props string
	err := s.db.QueryRowContext(ctx, `
		SELECT props FROM entities WHERE kind = ? AND key = ?
	`, ref.Kind, ref.Key).Scan(&props)
	if errors.Is(err, sql.ErrNoRows) {
		return txdata.Entity{}, false, nil
	}
	if err != nil {
		return txdata.Entity{}, false, fmt.Errorf("read entity %s: %w", ref, err)
	}

	obj, err := unmarshalProps(props)
	if err != nil {
		return txdata.Entity{}, false, fmt.Errorf("read entity %s: %w", ref, err)
	}
	return txdata.Entity{Kind: ref.Kind, Key: ref.Key, Props: obj}, true, nil
}

// ReadKind returns every entity of a kind ordered by key.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadKind(ctx context.Context, kind string) ([]txdata.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, key, props
		FROM entities
		WHERE kind = ?
		ORDER BY key COLLATE BINARY ASC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("query kind %q: %w", kind, err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ReadAllEntities returns every entity ordered by kind, then key.
func (s *Store) ReadAllEntities(ctx context.Context) ([]txdata.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, key, props
		FROM entities
		ORDER BY kind COLLATE BINARY ASC, key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	return scanEntities(rows)
}

// ListKinds returns the distinct entity kinds in the store, sorted.
func (s *Store) ListKinds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT kind FROM entities ORDER BY kind COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list kinds: %w", err)
	}
	defer rows.Close()

	kinds := []string{}
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, fmt.Errorf("scan kind: %w", err)
		}
		kinds = append(kinds, kind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kinds: %w", err)
	}
	return kinds, nil
}

func scanEntities(rows *sql.Rows) ([]txdata.Entity, error) {
	entities := []txdata.Entity{}
	for rows.Next() {
		var e txdata.Entity
		var props string
		if err := rows.Scan(&e.Kind, &e.Key, &props); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		obj, err := unmarshalProps(props)
		if err != nil {
			return nil, fmt.Errorf("entity %s/%s: %w", e.Kind, e.Key, err)
		}
		e.Props = obj
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}
