package config_test

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/rekey/config"
	"github.com/stokaro/rekey/migration/entity"
)

func TestDefaultMigrateOptions(t *testing.T) {
	c := qt.New(t)

	opts := config.DefaultMigrateOptions()

	c.Assert(opts, qt.IsNotNil)
	c.Assert(opts.Strategy, qt.Equals, config.StrategyCopy)
	c.Assert(opts.MaxAttempts, qt.Equals, 1000)
	c.Assert(opts.MaxLookupFailures, qt.Equals, 3)
	c.Assert(opts.Ledger, qt.IsFalse)
	c.Assert(opts.Validate(), qt.IsNil)
}

func TestWithStrategy(t *testing.T) {
	c := qt.New(t)

	opts := config.WithStrategy(config.StrategyInPlace)
	c.Assert(opts.Strategy, qt.Equals, config.StrategyInPlace)
	c.Assert(opts.MaxAttempts, qt.Equals, 1000)
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input       string
		expected    config.Strategy
		expectError bool
	}{
		{input: "copy", expected: config.StrategyCopy},
		{input: "copy-and-retire", expected: config.StrategyCopy},
		{input: "In-Place", expected: config.StrategyInPlace},
		{input: "rename", expected: config.StrategyInPlace},
		{input: "both", expectError: true},
		{input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c := qt.New(t)
			s, err := config.ParseStrategy(tt.input)
			if tt.expectError {
				c.Assert(err, qt.ErrorMatches, "unknown strategy.*")
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(s, qt.Equals, tt.expected)
		})
	}
}

func TestMigrateOptions_Validate(t *testing.T) {
	c := qt.New(t)

	opts := config.DefaultMigrateOptions()
	opts.MaxAttempts = 0
	c.Assert(opts.Validate(), qt.ErrorMatches, "max attempts must be at least 1, got 0")

	opts = config.DefaultMigrateOptions()
	opts.Strategy = "sideways"
	c.Assert(opts.Validate(), qt.ErrorMatches, `unknown strategy "sideways".*`)
}

func TestLoad_Defaults(t *testing.T) {
	c := qt.New(t)

	f, err := config.Load("")
	c.Assert(err, qt.IsNil)

	opts, err := f.MigrateOptions()
	c.Assert(err, qt.IsNil)
	c.Assert(opts, qt.DeepEquals, config.DefaultMigrateOptions())

	p, err := f.EntityProvider()
	c.Assert(err, qt.IsNil)
	c.Assert(p.Links(), qt.Equals, entity.DefaultLinks())
}

func TestLoad_Environment(t *testing.T) {
	c := qt.New(t)

	t.Setenv("REKEY_DATABASE_URL", "sqlite:///tmp/fitness.db")
	t.Setenv("REKEY_MIGRATION_STRATEGY", "in-place")
	t.Setenv("REKEY_MIGRATION_LEDGER", "true")

	f, err := config.Load("")
	c.Assert(err, qt.IsNil)
	c.Assert(f.Database.URL, qt.Equals, "sqlite:///tmp/fitness.db")

	opts, err := f.MigrateOptions()
	c.Assert(err, qt.IsNil)
	c.Assert(opts.Strategy, qt.Equals, config.StrategyInPlace)
	c.Assert(opts.Ledger, qt.IsTrue)
}

func TestLoad_File(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "rekey.yaml")
	err := os.WriteFile(path, []byte(`
database:
  url: postgres://rider@localhost/fitness
migration:
  strategy: copy
  max_attempts: 50
links:
  table: inbox_items
entities:
  groups:
    table: clubs
    dependents:
      - table: club_members
        column: club_id
    link_prefixes: ["/clubs/"]
  challenge:
    id_length: 10
`), 0o600)
	c.Assert(err, qt.IsNil)

	f, err := config.Load(path)
	c.Assert(err, qt.IsNil)
	c.Assert(f.Database.URL, qt.Equals, "postgres://rider@localhost/fitness")

	opts, err := f.MigrateOptions()
	c.Assert(err, qt.IsNil)
	c.Assert(opts.MaxAttempts, qt.Equals, 50)
	c.Assert(opts.MaxLookupFailures, qt.Equals, 3)

	p, err := f.EntityProvider()
	c.Assert(err, qt.IsNil)
	c.Assert(p.Links(), qt.Equals, entity.LinkTarget{Table: "inbox_items", KeyColumn: "id", Column: "link"})

	group, err := p.Lookup(entity.Group)
	c.Assert(err, qt.IsNil)
	c.Assert(group.Table, qt.Equals, "clubs")
	c.Assert(group.IDColumn, qt.Equals, "id")
	c.Assert(group.IDLength, qt.Equals, 6)
	c.Assert(group.Dependents, qt.DeepEquals, []entity.Dependent{{Table: "club_members", Column: "club_id"}})
	c.Assert(group.LinkPrefixes, qt.DeepEquals, []string{"/clubs/"})

	challenge, err := p.Lookup(entity.Challenge)
	c.Assert(err, qt.IsNil)
	c.Assert(challenge.IDLength, qt.Equals, 10)

	// Overrides never leak into the shared defaults.
	def, _ := entity.DefaultProvider().Lookup(entity.Group)
	c.Assert(def.Table, qt.Equals, "groups")
}

func TestLoad_UnknownEntity(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "rekey.yaml")
	c.Assert(os.WriteFile(path, []byte("entities:\n  badges:\n    table: b\n"), 0o600), qt.IsNil)

	f, err := config.Load(path)
	c.Assert(err, qt.IsNil)

	_, err = f.EntityProvider()
	c.Assert(err, qt.ErrorIs, entity.ErrUnknownType)
}

func TestLoad_MissingFile(t *testing.T) {
	c := qt.New(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	c.Assert(err, qt.ErrorMatches, "failed to read config file: .*")
}
