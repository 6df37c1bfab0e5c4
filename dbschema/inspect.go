package dbschema

import (
	"context"
	"fmt"

	"github.com/stokaro/rekey/core/platform"
	"github.com/stokaro/rekey/dbschema/types"
)

// Inspector reads foreign key metadata from a live database.
type Inspector struct {
	store Store
}

// NewInspector creates a new inspector
func NewInspector(store Store) *Inspector {
	return &Inspector{store: store}
}

// ReferencingKeys lists the foreign key columns that reference table,
// ordered by referencing table and column.
func (i *Inspector) ReferencingKeys(ctx context.Context, table string) ([]types.DBForeignKey, error) {
	var query string
	switch i.store.Dialect().Name() {
	case platform.Postgres:
		query = `
		SELECT
			tc.constraint_name,
			tc.table_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name,
			COALESCE(rc.update_rule, ''),
			COALESCE(rc.delete_rule, '')
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		LEFT JOIN information_schema.referential_constraints AS rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = current_schema()
		AND ccu.table_name = ?
		ORDER BY tc.table_name, kcu.column_name`
	case platform.MySQL, platform.MariaDB:
		query = `
		SELECT
			kcu.CONSTRAINT_NAME,
			kcu.TABLE_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME,
			COALESCE(rc.UPDATE_RULE, ''),
			COALESCE(rc.DELETE_RULE, '')
		FROM information_schema.KEY_COLUMN_USAGE AS kcu
		LEFT JOIN information_schema.REFERENTIAL_CONSTRAINTS AS rc
			ON rc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND rc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
		WHERE kcu.REFERENCED_TABLE_SCHEMA = DATABASE()
		AND kcu.REFERENCED_TABLE_NAME = ?
		ORDER BY kcu.TABLE_NAME, kcu.COLUMN_NAME`
	case platform.SQLite:
		query = `
		SELECT
			'',
			m.name,
			p."from",
			p."table",
			COALESCE(p."to", ''),
			p.on_update,
			p.on_delete
		FROM sqlite_master AS m
		JOIN pragma_foreign_key_list(m.name) AS p
		WHERE m.type = 'table'
		AND p."table" = ?
		ORDER BY m.name, p."from"`
	default:
		return nil, fmt.Errorf("unsupported dialect: %q", i.store.Dialect().Name())
	}

	rows, err := i.store.QueryContext(ctx, i.store.Dialect().Rebind(query), table)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	var keys []types.DBForeignKey
	for rows.Next() {
		var fk types.DBForeignKey
		err := rows.Scan(
			&fk.Name,
			&fk.TableName,
			&fk.ColumnName,
			&fk.ForeignTable,
			&fk.ForeignColumn,
			&fk.UpdateRule,
			&fk.DeleteRule,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		keys = append(keys, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating foreign key rows: %w", err)
	}

	return keys, nil
}
