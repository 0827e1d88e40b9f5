package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns a count of tasks grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// CheckHealth returns diagnostic information about the ledger database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		Driver:        s.dialect.name,
		Location:      redactDSN(s.location),
		SchemaVersion: schemaVersion,
	}

	if !s.dialect.postgres() && isFilePath(s.location) {
		info, err := os.Stat(s.location)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return health, nil
			}
			return health, fmt.Errorf("stat ledger database: %w", err)
		}
		if info.IsDir() {
			return health, fmt.Errorf("ledger database path %q is a directory", s.location)
		}
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping ledger database: %w", err)
	}
	health.Reachable = true

	exists, err := s.tableExists(connCtx, "tasks")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = exists

	if health.TableExists {
		columns, err := s.taskColumnNames(connCtx)
		if err != nil {
			health.Error = err.Error()
			return health, err
		}
		health.ColumnsPresent = columns
		present := make(map[string]struct{}, len(columns))
		for _, col := range columns {
			present[col] = struct{}{}
		}
		for _, col := range expectedTaskColumns {
			if _, ok := present[col]; !ok {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		if err := s.queryRow(connCtx, "SELECT COUNT(*) FROM tasks").Scan(&health.TotalTasks); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count tasks: %w", err)
		}
	}

	if s.dialect.postgres() {
		// PostgreSQL verifies pages itself; there is no cheap equivalent.
		health.IntegrityCheck = true
		return health, nil
	}
	var integrityResult string
	if err := s.queryRow(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}

func (s *Store) taskColumnNames(ctx context.Context) ([]string, error) {
	if s.dialect.postgres() {
		rows, err := s.query(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = 'tasks' ORDER BY ordinal_position`)
		if err != nil {
			return nil, fmt.Errorf("table info: %w", err)
		}
		defer rows.Close()
		var columns []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("scan table info: %w", err)
			}
			columns = append(columns, name)
		}
		return columns, rows.Err()
	}

	rows, err := s.query(ctx, "PRAGMA table_info(tasks)")
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()
	var columns []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func isFilePath(location string) bool {
	return location != "" && location != ":memory:" && !strings.HasPrefix(location, "file:")
}

// redactDSN hides a password in a postgres URL or keyword DSN.
func redactDSN(dsn string) string {
	if at := strings.Index(dsn, "@"); at > 0 && strings.Contains(dsn, "://") {
		scheme := dsn[:strings.Index(dsn, "://")+3]
		userinfo := dsn[len(scheme):at]
		if user, _, ok := strings.Cut(userinfo, ":"); ok {
			return scheme + user + ":***" + dsn[at:]
		}
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		if strings.HasPrefix(field, "password=") {
			fields[i] = "password=***"
		}
	}
	if len(fields) == 0 {
		return dsn
	}
	return strings.Join(fields, " ")
}
