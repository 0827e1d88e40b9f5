package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

var expectedTaskColumns = []string{
	"task_id",
	"status",
	"claimed_from",
	"claimed_by",
	"created_at",
	"completed_at",
	"file_count",
	"byte_count",
	"submitting_user",
	"submission_id",
	"contents",
	"retry_count",
	"last_error",
	"updated_at",
	"cleaned_at",
}

func (s *Store) initSchema(ctx context.Context) error {
	exists, err := s.tableExists(ctx, "schema_version")
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if !exists {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.queryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (archive the ledger and start a new one)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.queryRow(ctx, s.dialect.tableExistsQuery(), name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	ddl := schemaSQLite
	if s.dialect.postgres() {
		ddl = schemaPostgres
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range splitStatements(ddl) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

func splitStatements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
