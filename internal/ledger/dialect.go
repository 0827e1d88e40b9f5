package ledger

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// dialect isolates the few places where SQLite and PostgreSQL differ.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type dialect struct {
	name      string
	sqlDriver string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case driverSQLite, "":
		return dialect{name: driverSQLite, sqlDriver: "sqlite"}, nil
	case driverPostgres:
		return dialect{name: driverPostgres, sqlDriver: "pgx"}, nil
	default:
		return dialect{}, errors.New("unsupported ledger driver " + strconv.Quote(driver))
	}
}

func (d dialect) postgres() bool {
	return d.name == driverPostgres
}

// rebind rewrites ? placeholders to $n outside of quoted literals.
func (d dialect) rebind(query string) string {
	if !d.postgres() || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (d dialect) tableExistsQuery() string {
	if d.postgres() {
		return "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}
	return "SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

// retryable reports lock contention worth retrying: SQLITE_BUSY for SQLite,
// serialization failures and deadlocks for PostgreSQL.
func (d dialect) retryable(err error) bool {
	if err == nil {
		return false
	}
	if d.postgres() {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return pgErr.Code == "40001" || pgErr.Code == "40P01"
		}
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
