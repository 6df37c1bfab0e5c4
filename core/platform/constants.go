package platform

import (
	"strings"
)

const (
	Postgres = "postgres"
	MySQL    = "mysql"
	MariaDB  = "mariadb"
	SQLite   = "sqlite"
)

// NormalizeDialect maps driver names and URL schemes to one of the dialect
// constants. Unknown names map to an empty string.
func NormalizeDialect(dialect string) string {
	switch strings.ToLower(dialect) {
	case "pgx", "postgresql", "postgres":
		return Postgres
	case "mysql":
		return MySQL
	case "mariadb":
		return MariaDB
	case "sqlite", "sqlite3", "file":
		return SQLite
	default:
		return ""
	}
}

// IsMySQLLike reports whether the dialect speaks the MySQL protocol.
func IsMySQLLike(dialect string) bool {
	return dialect == MySQL || dialect == MariaDB
}
