package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Entity kinds cached for the downstream hierarchy.
const (
	EntityCollection = "collection"
	EntityDataset    = "dataset"
)

// LookupEntity returns the downstream id remembered for a collection or
// dataset name.
func (s *Store) LookupEntity(ctx context.Context, kind, name string) (string, bool, error) {
	var id string
	err := s.queryRow(ctx, `SELECT entity_id FROM entities WHERE kind = ? AND name = ?`, kind, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %q: %w", kind, name, err)
	}
	return id, true, nil
}

// RememberEntity stores the downstream id for a name, replacing any earlier one.
func (s *Store) RememberEntity(ctx context.Context, kind, name, id string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO entities (kind, name, entity_id, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (kind, name) DO UPDATE SET entity_id = excluded.entity_id`,
		kind, name, id, s.timestamp())
	if err != nil {
		return fmt.Errorf("remember %s %q: %w", kind, name, err)
	}
	return nil
}

// ForgetEntity drops a cached id that the downstream store no longer knows.
func (s *Store) ForgetEntity(ctx context.Context, kind, name string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM entities WHERE kind = ? AND name = ?`, kind, name); err != nil {
		return fmt.Errorf("forget %s %q: %w", kind, name, err)
	}
	return nil
}
