package dbschema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stokaro/rekey/core/platform"
)

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used by the migration components.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a Querier that knows which SQL dialect it speaks.
type Store interface {
	Querier
	Dialect() Dialect
}

// Dialect captures the per-engine differences needed to issue parameterized
// statements and to toggle foreign key enforcement for a single session.
type Dialect interface {
	// Name returns one of the platform dialect constants.
	Name() string
	// QuoteIdent quotes a table or column name.
	QuoteIdent(name string) string
	// Rebind rewrites '?' placeholders into the engine's placeholder syntax.
	Rebind(query string) string
	// SessionInit returns statements executed once when a session is pinned.
	SessionInit() []string
	// ForeignKeyState reads the current session foreign key enforcement setting.
	ForeignKeyState(ctx context.Context, q Querier) (string, error)
	// RelaxForeignKeys returns the statement suspending foreign key enforcement.
	RelaxForeignKeys() string
	// RestoreForeignKeys returns the statement putting state back in effect.
	RestoreForeignKeys(state string) (string, error)
}

// DialectFor returns the dialect implementation for a dialect name or alias.
func DialectFor(name string) (Dialect, error) {
	switch platform.NormalizeDialect(name) {
	case platform.Postgres:
		return postgresDialect{}, nil
	case platform.MySQL:
		return mysqlDialect{name: platform.MySQL}, nil
	case platform.MariaDB:
		return mysqlDialect{name: platform.MariaDB}, nil
	case platform.SQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %q", name)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return platform.Postgres }

func (postgresDialect) QuoteIdent(name string) string { return pq.QuoteIdentifier(name) }

// Rebind rewrites ? placeholders to $n. Every value is bound, so queries
// never carry a literal question mark.
func (postgresDialect) Rebind(query string) string { return sqlx.Rebind(sqlx.DOLLAR, query) }

func (postgresDialect) SessionInit() []string { return nil }

// session_replication_role = replica disables the internal triggers that
// enforce foreign keys for the current session only.
func (postgresDialect) ForeignKeyState(ctx context.Context, q Querier) (string, error) {
	var role string
	if err := q.QueryRowContext(ctx, "SHOW session_replication_role").Scan(&role); err != nil {
		return "", fmt.Errorf("failed to read session_replication_role: %w", err)
	}
	return role, nil
}

func (postgresDialect) RelaxForeignKeys() string {
	return "SET session_replication_role = replica"
}

func (postgresDialect) RestoreForeignKeys(state string) (string, error) {
	switch state {
	case "origin", "replica", "local":
		return "SET session_replication_role = " + state, nil
	default:
		return "", fmt.Errorf("unknown session_replication_role: %q", state)
	}
}

type mysqlDialect struct {
	name string
}

func (d mysqlDialect) Name() string { return d.name }

func (mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) Rebind(query string) string { return query }

func (mysqlDialect) SessionInit() []string { return nil }

func (mysqlDialect) ForeignKeyState(ctx context.Context, q Querier) (string, error) {
	var checks int
	if err := q.QueryRowContext(ctx, "SELECT @@SESSION.foreign_key_checks").Scan(&checks); err != nil {
		return "", fmt.Errorf("failed to read foreign_key_checks: %w", err)
	}
	return strconv.Itoa(checks), nil
}

func (mysqlDialect) RelaxForeignKeys() string {
	return "SET SESSION foreign_key_checks = 0"
}

func (mysqlDialect) RestoreForeignKeys(state string) (string, error) {
	switch state {
	case "0", "1":
		return "SET SESSION foreign_key_checks = " + state, nil
	default:
		return "", fmt.Errorf("unknown foreign_key_checks value: %q", state)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return platform.SQLite }

func (sqliteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqliteDialect) Rebind(query string) string { return query }

// Foreign key enforcement is off by default in SQLite and has to be
// enabled per connection.
func (sqliteDialect) SessionInit() []string {
	return []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
}

func (sqliteDialect) ForeignKeyState(ctx context.Context, q Querier) (string, error) {
	var enabled int
	if err := q.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return "", fmt.Errorf("failed to read foreign_keys pragma: %w", err)
	}
	return strconv.Itoa(enabled), nil
}

func (sqliteDialect) RelaxForeignKeys() string {
	return "PRAGMA foreign_keys = OFF"
}

func (sqliteDialect) RestoreForeignKeys(state string) (string, error) {
	switch state {
	case "0":
		return "PRAGMA foreign_keys = OFF", nil
	case "1":
		return "PRAGMA foreign_keys = ON", nil
	default:
		return "", fmt.Errorf("unknown foreign_keys pragma value: %q", state)
	}
}
