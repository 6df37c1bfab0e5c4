// Package config provides configuration options for identifier migration runs.
//
// Library users configure runs programmatically through MigrateOptions. The
// command line tool additionally reads a YAML file and REKEY_* environment
// variables through Load.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/stokaro/rekey/migration/entity"
)

// Strategy selects how an entity row is moved to its new identifier.
type Strategy string

const (
	// StrategyCopy inserts a copy under the new id, repoints dependents,
	// then deletes the old row. Foreign keys stay enforced throughout.
	StrategyCopy Strategy = "copy"
	// StrategyInPlace renames the primary key and dependents with foreign key
	// enforcement suspended for the session.
	StrategyInPlace Strategy = "in-place"
)

// ParseStrategy converts user input into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyCopy, "copy-and-retire":
		return StrategyCopy, nil
	case StrategyInPlace, "inplace", "rename":
		return StrategyInPlace, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (expected %q or %q)", s, StrategyCopy, StrategyInPlace)
	}
}

// MigrateOptions contains configuration options for a migration run.
type MigrateOptions struct {
	// Strategy is used for every entity of the run; strategies are never mixed.
	Strategy Strategy
	// MaxAttempts bounds how many candidate identifiers are drawn per entity.
	MaxAttempts int
	// MaxLookupFailures bounds consecutive failed availability lookups.
	MaxLookupFailures int
	// Ledger enables the persisted step ledger.
	Ledger bool
}

// DefaultMigrateOptions returns the default migration options.
func DefaultMigrateOptions() *MigrateOptions {
	return &MigrateOptions{
		Strategy:          StrategyCopy,
		MaxAttempts:       1000,
		MaxLookupFailures: 3,
	}
}

// WithStrategy returns the default options with the given strategy.
//
// Example:
//
//	opts := config.WithStrategy(config.StrategyInPlace)
func WithStrategy(s Strategy) *MigrateOptions {
	opts := DefaultMigrateOptions()
	opts.Strategy = s
	return opts
}

// Validate checks the options for consistency.
func (o *MigrateOptions) Validate() error {
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", o.MaxAttempts)
	}
	if o.MaxLookupFailures < 1 {
		return fmt.Errorf("max lookup failures must be at least 1, got %d", o.MaxLookupFailures)
	}
	return nil
}

// EntityConfig overrides parts of a default entity descriptor. Empty fields
// keep the default.
type EntityConfig struct {
	Table        string             `mapstructure:"table"`
	IDColumn     string             `mapstructure:"id_column"`
	NameColumn   string             `mapstructure:"name_column"`
	IDLength     int                `mapstructure:"id_length"`
	Dependents   []entity.Dependent `mapstructure:"dependents"`
	LinkPrefixes []string           `mapstructure:"link_prefixes"`
}

// File is the on-disk and environment configuration of the command line tool.
type File struct {
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Migration struct {
		Strategy          string `mapstructure:"strategy"`
		MaxAttempts       int    `mapstructure:"max_attempts"`
		MaxLookupFailures int    `mapstructure:"max_lookup_failures"`
		Ledger            bool   `mapstructure:"ledger"`
	} `mapstructure:"migration"`

	Links    entity.LinkTarget       `mapstructure:"links"`
	Entities map[string]EntityConfig `mapstructure:"entities"`
}

// Load reads configuration from path (optional) and REKEY_* environment
// variables, e.g. REKEY_DATABASE_URL or REKEY_MIGRATION_STRATEGY.
func Load(path string) (*File, error) {
	v := viper.New()

	defaults := DefaultMigrateOptions()
	links := entity.DefaultLinks()
	v.SetDefault("database.url", "")
	v.SetDefault("migration.strategy", string(defaults.Strategy))
	v.SetDefault("migration.max_attempts", defaults.MaxAttempts)
	v.SetDefault("migration.max_lookup_failures", defaults.MaxLookupFailures)
	v.SetDefault("migration.ledger", defaults.Ledger)
	v.SetDefault("links.table", links.Table)
	v.SetDefault("links.key_column", links.KeyColumn)
	v.SetDefault("links.column", links.Column)

	v.SetEnvPrefix("REKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &f, nil
}

// MigrateOptions converts the file settings into run options.
func (f *File) MigrateOptions() (*MigrateOptions, error) {
	strategy, err := ParseStrategy(f.Migration.Strategy)
	if err != nil {
		return nil, err
	}

	opts := &MigrateOptions{
		Strategy:          strategy,
		MaxAttempts:       f.Migration.MaxAttempts,
		MaxLookupFailures: f.Migration.MaxLookupFailures,
		Ledger:            f.Migration.Ledger,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// EntityProvider applies the entity overrides on top of entity.DefaultProvider.
func (f *File) EntityProvider() (*entity.RegisteredProvider, error) {
	p := entity.DefaultProvider()

	links := p.Links()
	if f.Links.Table != "" {
		links.Table = f.Links.Table
	}
	if f.Links.KeyColumn != "" {
		links.KeyColumn = f.Links.KeyColumn
	}
	if f.Links.Column != "" {
		links.Column = f.Links.Column
	}
	p.SetLinks(links)

	for name, override := range f.Entities {
		t, err := entity.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("invalid entities.%s: %w", name, err)
		}

		base, err := p.Lookup(t)
		if err != nil {
			return nil, err
		}
		e := *base

		if override.Table != "" {
			e.Table = override.Table
		}
		if override.IDColumn != "" {
			e.IDColumn = override.IDColumn
		}
		if override.NameColumn != "" {
			e.NameColumn = override.NameColumn
		}
		if override.IDLength != 0 {
			e.IDLength = override.IDLength
		}
		if override.Dependents != nil {
			e.Dependents = override.Dependents
		}
		if override.LinkPrefixes != nil {
			e.LinkPrefixes = override.LinkPrefixes
		}
		p.Register(&e)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
