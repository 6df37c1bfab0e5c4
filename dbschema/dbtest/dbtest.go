// Package dbtest provides an in-memory SQLite store with the fitness schema
// for tests. Foreign keys are enforced, as in production.
package dbtest

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"testing"

	"github.com/go-extras/go-kit/must"

	"github.com/stokaro/rekey/dbschema"
)

//go:embed schema.sql
var schemaSQL string

// NewSession returns a pinned session on a fresh in-memory database with the
// fitness schema loaded. Everything is closed when the test completes.
func NewSession(t testing.TB) *dbschema.Session {
	t.Helper()
	return OpenSession(t, "sqlite://:memory:")
}

// OpenSession is NewSession on the database at dbURL.
func OpenSession(t testing.TB, dbURL string) *dbschema.Session {
	t.Helper()

	ctx := context.Background()
	conn, err := dbschema.ConnectToDatabaseContext(ctx, dbURL)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	session, err := conn.Session(ctx)
	if err != nil {
		_ = conn.Close()
		t.Fatalf("open test session: %v", err)
	}

	t.Cleanup(func() {
		_ = session.Close()
		_ = conn.Close()
	})

	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		Exec(t, session, stmt)
	}

	return session
}

// Exec runs a statement on the session and fails the test on error.
// Placeholders are written as ? for every dialect.
func Exec(t testing.TB, session *dbschema.Session, query string, args ...any) {
	t.Helper()

	if _, err := session.ExecContext(context.Background(), session.Dialect().Rebind(query), args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// Strings returns the first column of every row of query.
func Strings(t testing.TB, session *dbschema.Session, query string, args ...any) []string {
	t.Helper()

	rows := must.Must(session.QueryContext(context.Background(), session.Dialect().Rebind(query), args...))
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("scan %q: %v", query, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate %q: %v", query, err)
	}
	return out
}

// Count returns the result of a single-value count query.
func Count(t testing.TB, session *dbschema.Session, query string, args ...any) int {
	t.Helper()

	var n int
	if err := session.QueryRowContext(context.Background(), session.Dialect().Rebind(query), args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

// SeedGroup inserts a group with the given number of members.
func SeedGroup(t testing.TB, session *dbschema.Session, id, name string, members int) {
	t.Helper()

	Exec(t, session, `INSERT INTO "groups" (id, name, description) VALUES (?, ?, ?)`, id, name, name+" riders")
	for i := range members {
		Exec(t, session, `INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`, id, fmt.Sprintf("%s-user-%d", name, i))
	}
}
