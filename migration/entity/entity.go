// Package entity describes the migratable top-level records and the tables
// that depend on them.
package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned for entity types that are not registered.
var ErrUnknownType = errors.New("unknown entity type")

// Type identifies a kind of migratable record.
type Type string

const (
	Group     Type = "group"
	Event     Type = "event"
	Challenge Type = "challenge"
)

// ParseType converts user input such as "Groups" or "challenge" into a Type.
func ParseType(s string) (Type, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case string(Group):
		return Group, nil
	case string(Event):
		return Event, nil
	case string(Challenge):
		return Challenge, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Dependent is a child table column holding a foreign key to an entity.
type Dependent struct {
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
}

func (d Dependent) String() string {
	return d.Table + "." + d.Column
}

// LinkTarget is the free-text column that may embed entity identifiers
// inside path-like strings, together with the key used to update rows.
type LinkTarget struct {
	Table     string `mapstructure:"table"`
	KeyColumn string `mapstructure:"key_column"`
	Column    string `mapstructure:"column"`
}

// Entity describes one migratable table.
type Entity struct {
	Type     Type
	Table    string
	IDColumn string
	// NameColumn is only used for log output; it may be empty.
	NameColumn string
	// IDLength is the number of ASCII digits of a migrated identifier.
	IDLength int
	// Dependents are relocated in declaration order.
	Dependents []Dependent
	// LinkPrefixes are the path prefixes that, followed by the identifier,
	// denote this entity inside LinkTarget values, e.g. "/groups/".
	LinkPrefixes []string
}

// IsMigrated reports whether id already has the fixed-length numeric format.
func (e *Entity) IsMigrated(id string) bool {
	if len(id) != e.IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// Validate checks that the descriptor can be turned into SQL.
func (e *Entity) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("entity type is required")
	}
	if e.Table == "" || e.IDColumn == "" {
		return fmt.Errorf("entity %s: table and id column are required", e.Type)
	}
	if e.IDLength < 1 || e.IDLength > 18 {
		return fmt.Errorf("entity %s: id length must be between 1 and 18, got %d", e.Type, e.IDLength)
	}
	for _, d := range e.Dependents {
		if d.Table == "" || d.Column == "" {
			return fmt.Errorf("entity %s: dependent table and column are required", e.Type)
		}
	}
	for _, p := range e.LinkPrefixes {
		if p == "" {
			return fmt.Errorf("entity %s: empty link prefix", e.Type)
		}
	}
	return nil
}

// HasDependent reports whether table.column is declared as a dependent.
func (e *Entity) HasDependent(table, column string) bool {
	for _, d := range e.Dependents {
		if d.Table == table && d.Column == column {
			return true
		}
	}
	return false
}
