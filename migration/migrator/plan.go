package migrator

import (
	"context"
	"slices"

	"github.com/stokaro/rekey/dbschema/types"
	"github.com/stokaro/rekey/migration/entity"
)

// Plan summarizes what a batch over one entity type would do, without changing anything
type Plan struct {
	EntityType entity.Type          `json:"entity_type"`
	Table      string               `json:"table"`
	Total      int                  `json:"total"`
	Legacy     []string             `json:"legacy"`
	Undeclared []types.DBForeignKey `json:"undeclared,omitempty"`
}

// Plan inspects the instances of t and the foreign keys pointing at its table.
func (m *Migrator) Plan(ctx context.Context, t entity.Type) (*Plan, error) {
	e, err := m.provider.Lookup(t)
	if err != nil {
		return nil, err
	}

	instances, err := m.instances(ctx, e)
	if err != nil {
		return nil, err
	}

	plan := &Plan{EntityType: t, Table: e.Table, Total: len(instances)}
	for _, inst := range instances {
		if !e.IsMigrated(inst.id) {
			plan.Legacy = append(plan.Legacy, inst.id)
		}
	}

	plan.Undeclared, err = m.UndeclaredDependents(ctx, t)
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// UndeclaredDependents returns the foreign keys referencing the identifier
// column of t that are not declared as dependents. MigrateAll relocates them
// together with the declared ones.
func (m *Migrator) UndeclaredDependents(ctx context.Context, t entity.Type) ([]types.DBForeignKey, error) {
	e, err := m.provider.Lookup(t)
	if err != nil {
		return nil, err
	}

	keys, err := m.inspector.ReferencingKeys(ctx, e.Table)
	if err != nil {
		return nil, err
	}

	var undeclared []types.DBForeignKey
	seen := make(map[entity.Dependent]bool)
	for _, k := range keys {
		// SQLite leaves the column empty for keys on the implicit primary key.
		if k.ForeignColumn != "" && k.ForeignColumn != e.IDColumn {
			continue
		}
		dep := entity.Dependent{Table: k.TableName, Column: k.ColumnName}
		if e.HasDependent(dep.Table, dep.Column) || seen[dep] {
			continue
		}
		seen[dep] = true
		m.logger.Warn("Undeclared dependent foreign key", "type", t, "table", k.TableName, "column", k.ColumnName, "constraint", k.Name)
		undeclared = append(undeclared, k)
	}
	return undeclared, nil
}

// resolveDependents returns e with the undeclared referencing foreign keys
// appended to its dependents, so no row is left pointing at a retired
// identifier.
func (m *Migrator) resolveDependents(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	undeclared, err := m.UndeclaredDependents(ctx, e.Type)
	if err != nil {
		return nil, err
	}
	if len(undeclared) == 0 {
		return e, nil
	}

	resolved := *e
	resolved.Dependents = slices.Clone(e.Dependents)
	for _, k := range undeclared {
		resolved.Dependents = append(resolved.Dependents, entity.Dependent{Table: k.TableName, Column: k.ColumnName})
	}
	return &resolved, nil
}
