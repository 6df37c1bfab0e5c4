// Package relocator moves dependent rows and primary keys from an old
// entity identifier to a new one using parameterized statements.
package relocator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stokaro/rekey/dbschema"
	"github.com/stokaro/rekey/migration/entity"
)

var (
	// ErrNotFound is returned when the row addressed by the old identifier does not exist.
	ErrNotFound = errors.New("entity row not found")
	// ErrStillReferenced is returned when a dependent still holds the old identifier.
	ErrStillReferenced = errors.New("old identifier still referenced")
)

// TableCount reports how many rows of one dependent column were repointed.
type TableCount struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Rows   int64  `json:"rows"`
}

// Relocator rewrites foreign key and primary key columns.
type Relocator struct {
	store   dbschema.Store
	columns map[string][]string // table -> column names
}

// NewRelocator creates a new relocator
func NewRelocator(store dbschema.Store) *Relocator {
	return &Relocator{
		store:   store,
		columns: make(map[string][]string),
	}
}

// Relocate points every declared dependent of e at newID wherever it
// currently holds oldID. Tables without matching rows are a successful no-op.
// Counts are informational; on failure the counts gathered so far are
// returned together with the error.
func (r *Relocator) Relocate(ctx context.Context, e *entity.Entity, oldID, newID string) ([]TableCount, error) {
	d := r.store.Dialect()
	counts := make([]TableCount, 0, len(e.Dependents))

	for _, dep := range e.Dependents {
		col := d.QuoteIdent(dep.Column)
		query := d.Rebind(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", d.QuoteIdent(dep.Table), col, col))

		res, err := r.store.ExecContext(ctx, query, newID, oldID)
		if err != nil {
			return counts, fmt.Errorf("failed to relocate %s: %w", dep, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return counts, fmt.Errorf("failed to count relocated rows in %s: %w", dep, err)
		}
		counts = append(counts, TableCount{Table: dep.Table, Column: dep.Column, Rows: n})
	}

	return counts, nil
}

// VerifyRelocated checks that no dependent of e still holds oldID.
func (r *Relocator) VerifyRelocated(ctx context.Context, e *entity.Entity, oldID string) error {
	d := r.store.Dialect()

	for _, dep := range e.Dependents {
		query := d.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", d.QuoteIdent(dep.Table), d.QuoteIdent(dep.Column)))

		var n int64
		if err := r.store.QueryRowContext(ctx, query, oldID).Scan(&n); err != nil {
			return fmt.Errorf("failed to verify %s: %w", dep, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %d rows of %s hold %q", ErrStillReferenced, n, dep, oldID)
		}
	}
	return nil
}

// RenameKey changes the primary key of the entity row in place. Enforcement of
// foreign keys pointing at the row has to be relaxed by the caller.
func (r *Relocator) RenameKey(ctx context.Context, e *entity.Entity, oldID, newID string) error {
	d := r.store.Dialect()
	col := d.QuoteIdent(e.IDColumn)
	query := d.Rebind(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", d.QuoteIdent(e.Table), col, col))

	res, err := r.store.ExecContext(ctx, query, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to rename %s %q: %w", e.Type, oldID, err)
	}
	return expectOne(res.RowsAffected, e, oldID)
}

// CopyEntity inserts a new row keyed by newID with every other column copied
// verbatim from the row keyed by oldID.
func (r *Relocator) CopyEntity(ctx context.Context, e *entity.Entity, oldID, newID string) error {
	columns, err := r.tableColumns(ctx, e.Table)
	if err != nil {
		return err
	}

	d := r.store.Dialect()
	targets := make([]string, 0, len(columns))
	sources := make([]string, 0, len(columns))
	hasID := false
	for _, name := range columns {
		targets = append(targets, d.QuoteIdent(name))
		if name == e.IDColumn {
			sources = append(sources, "?")
			hasID = true
			continue
		}
		sources = append(sources, d.QuoteIdent(name))
	}
	if !hasID {
		return fmt.Errorf("table %s has no column %s", e.Table, e.IDColumn)
	}

	query := d.Rebind(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s = ?",
		d.QuoteIdent(e.Table),
		strings.Join(targets, ", "),
		strings.Join(sources, ", "),
		d.QuoteIdent(e.Table),
		d.QuoteIdent(e.IDColumn),
	))

	res, err := r.store.ExecContext(ctx, query, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to copy %s %q to %q: %w", e.Type, oldID, newID, err)
	}
	return expectOne(res.RowsAffected, e, oldID)
}

// Retire deletes the row keyed by oldID. It fails while any enforced foreign
// key still references the row.
func (r *Relocator) Retire(ctx context.Context, e *entity.Entity, oldID string) error {
	d := r.store.Dialect()
	query := d.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", d.QuoteIdent(e.Table), d.QuoteIdent(e.IDColumn)))

	res, err := r.store.ExecContext(ctx, query, oldID)
	if err != nil {
		return fmt.Errorf("failed to retire %s %q: %w", e.Type, oldID, err)
	}
	return expectOne(res.RowsAffected, e, oldID)
}

// tableColumns discovers the live column list of table once per relocator.
func (r *Relocator) tableColumns(ctx context.Context, table string) ([]string, error) {
	if cols, ok := r.columns[table]; ok {
		return cols, nil
	}

	rows, err := r.store.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", r.store.Dialect().QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	r.columns[table] = cols
	return cols, nil
}

func expectOne(rowsAffected func() (int64, error), e *entity.Entity, id string) error {
	n, err := rowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %q", ErrNotFound, e.Type, id)
	}
	if n > 1 {
		return fmt.Errorf("expected one %s row for %q, affected %d", e.Type, id, n)
	}
	return nil
}
