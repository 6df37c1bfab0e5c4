//go:build integration

package integration_test

import (
	"context"
	"os"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/stokaro/rekey/config"
	"github.com/stokaro/rekey/dbschema"
	"github.com/stokaro/rekey/dbschema/dbtest"
	"github.com/stokaro/rekey/migration/entity"
	"github.com/stokaro/rekey/migration/migrator"
)

const fitnessSchema = `
CREATE TABLE groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT
);
CREATE TABLE group_members (
	id SERIAL PRIMARY KEY,
	group_id TEXT NOT NULL REFERENCES groups(id),
	user_id TEXT NOT NULL
);
CREATE TABLE events (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	group_id TEXT REFERENCES groups(id)
);
CREATE TABLE challenges (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	group_id TEXT REFERENCES groups(id)
);
CREATE TABLE posts (
	id SERIAL PRIMARY KEY,
	group_id TEXT NOT NULL REFERENCES groups(id),
	body TEXT
);
CREATE TABLE event_participants (
	id SERIAL PRIMARY KEY,
	event_id TEXT NOT NULL REFERENCES events(id),
	user_id TEXT NOT NULL
);
CREATE TABLE badges (
	id SERIAL PRIMARY KEY,
	event_id TEXT REFERENCES events(id),
	name TEXT NOT NULL
);
CREATE TABLE notifications (
	id SERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	event_id TEXT REFERENCES events(id),
	message TEXT,
	link TEXT
);
CREATE TABLE challenge_participants (
	id SERIAL PRIMARY KEY,
	challenge_id TEXT NOT NULL REFERENCES challenges(id),
	user_id TEXT NOT NULL
)`

// newPostgresSession needs a role allowed to set session_replication_role
// for the in-place strategy. It opens a session whose search path points at a fresh
// schema holding the fitness tables. The schema is dropped afterwards.
func newPostgresSession(t *testing.T) *dbschema.Session {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: POSTGRES_TEST_DSN environment variable not set")
	}

	ctx := context.Background()
	conn, err := dbschema.ConnectToDatabaseContext(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	session, err := conn.Session(ctx)
	if err != nil {
		_ = conn.Close()
		t.Fatalf("session: %v", err)
	}

	schema := "rekey_it_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	t.Cleanup(func() {
		_, _ = session.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = session.Close()
		_ = conn.Close()
	})

	dbtest.Exec(t, session, "CREATE SCHEMA "+schema)
	dbtest.Exec(t, session, "SET search_path TO "+schema)
	for _, stmt := range strings.Split(fitnessSchema, ";") {
		dbtest.Exec(t, session, stmt)
	}
	return session
}

func TestPostgresMigrateGroups(t *testing.T) {
	for _, strategy := range []config.Strategy{config.StrategyCopy, config.StrategyInPlace} {
		t.Run(string(strategy), func(t *testing.T) {
			c := qt.New(t)
			session := newPostgresSession(t)
			ctx := context.Background()

			dbtest.SeedGroup(t, session, "long-legacy-uuid-123", "Sunday Riders", 2)
			dbtest.SeedGroup(t, session, "482917", "Already migrated", 1)
			dbtest.Exec(t, session, `INSERT INTO posts (group_id, body) VALUES ('long-legacy-uuid-123', 'hello')`)
			dbtest.Exec(t, session, `INSERT INTO notifications (user_id, link) VALUES ('u1', '/groups/long-legacy-uuid-123')`)

			roleBefore := dbtest.Strings(t, session, `SHOW session_replication_role`)

			m := migrator.NewMigrator(session, entity.DefaultProvider(), config.WithStrategy(strategy))
			report, err := m.MigrateAll(ctx, entity.Group)
			c.Assert(err, qt.IsNil)
			c.Assert(report.Succeeded, qt.Equals, 1)
			c.Assert(report.Skipped, qt.Equals, 1)

			newID := report.Results[1].NewID
			c.Assert(report.Results[1].OldID, qt.Equals, "long-legacy-uuid-123")
			c.Assert(newID, qt.Matches, `\d{6}`)

			c.Assert(dbtest.Count(t, session, `SELECT COUNT(*) FROM group_members WHERE group_id = ?`, newID), qt.Equals, 2)
			c.Assert(dbtest.Count(t, session, `SELECT COUNT(*) FROM posts WHERE group_id = ?`, newID), qt.Equals, 1)
			c.Assert(dbtest.Strings(t, session, `SELECT link FROM notifications`), qt.DeepEquals, []string{"/groups/" + newID})
			c.Assert(dbtest.Count(t, session, `SELECT COUNT(*) FROM groups WHERE id = 'long-legacy-uuid-123'`), qt.Equals, 0)

			c.Assert(dbtest.Strings(t, session, `SHOW session_replication_role`), qt.DeepEquals, roleBefore)
		})
	}
}

func TestPostgresUndeclaredDependents(t *testing.T) {
	c := qt.New(t)
	session := newPostgresSession(t)

	dbtest.Exec(t, session, `CREATE TABLE group_invites (id SERIAL PRIMARY KEY, group_id TEXT REFERENCES groups(id) ON DELETE CASCADE)`)
	dbtest.SeedGroup(t, session, "legacy-a", "Alpha", 0)
	dbtest.Exec(t, session, `INSERT INTO group_invites (group_id) VALUES ('legacy-a'), ('legacy-a')`)

	m := migrator.NewMigrator(session, entity.DefaultProvider(), nil)
	undeclared, err := m.UndeclaredDependents(context.Background(), entity.Group)
	c.Assert(err, qt.IsNil)
	c.Assert(undeclared, qt.HasLen, 1)
	c.Assert(undeclared[0].TableName, qt.Equals, "group_invites")
	c.Assert(undeclared[0].ForeignTable, qt.Equals, "groups")

	report, err := m.MigrateAll(context.Background(), entity.Group)
	c.Assert(err, qt.IsNil)
	c.Assert(report.Succeeded, qt.Equals, 1)
	c.Assert(dbtest.Count(t, session, `SELECT COUNT(*) FROM group_invites WHERE group_id = ?`, report.Results[0].NewID), qt.Equals, 2)
}
