package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/stokaro/rekey/config"
	"github.com/stokaro/rekey/dbschema"
	"github.com/stokaro/rekey/migration/entity"
	"github.com/stokaro/rekey/migration/idgen"
	"github.com/stokaro/rekey/migration/ledger"
	"github.com/stokaro/rekey/migration/linkrewrite"
	"github.com/stokaro/rekey/migration/relocator"
)

// Session is the store session a batch runs on. Relaxed foreign key
// enforcement, when used, is scoped to this session.
type Session interface {
	dbschema.Store
	WithRelaxedConstraints(ctx context.Context, fn func(ctx context.Context) error) error
}

// Migrator re-keys entity instances from legacy identifiers to fixed-length
// numeric identifiers, one instance at a time.
type Migrator struct {
	session   Session
	provider  entity.Provider
	opts      *config.MigrateOptions
	generator *idgen.Generator
	relocator *relocator.Relocator
	rewriter  *linkrewrite.Rewriter
	inspector *dbschema.Inspector
	ledger    *ledger.Ledger
	logger    *slog.Logger
}

type instance struct {
	id   string
	name string
}

// NewMigrator creates a new migrator. A nil opts uses config.DefaultMigrateOptions.
func NewMigrator(session Session, provider entity.Provider, opts *config.MigrateOptions) *Migrator {
	if opts == nil {
		opts = config.DefaultMigrateOptions()
	}
	return &Migrator{
		session:  session,
		provider: provider,
		opts:     opts,
		generator: idgen.NewGenerator(session).
			WithMaxAttempts(opts.MaxAttempts).
			WithLookupRetry(opts.MaxLookupFailures, idgen.DefaultRetryDelay),
		relocator: relocator.NewRelocator(session),
		rewriter:  linkrewrite.NewRewriter(session, provider.Links()),
		inspector: dbschema.NewInspector(session),
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger for the migrator
func (m *Migrator) WithLogger(l *slog.Logger) *Migrator {
	tmp := *m
	tmp.logger = l
	tmp.generator = m.generator.WithLogger(l)
	return &tmp
}

// WithLedger enables step persistence to l
func (m *Migrator) WithLedger(l *ledger.Ledger) *Migrator {
	tmp := *m
	tmp.ledger = l
	return &tmp
}

// WithGenerator replaces the identifier generator
func (m *Migrator) WithGenerator(g *idgen.Generator) *Migrator {
	tmp := *m
	tmp.generator = g
	return &tmp
}

// Options returns the run options
func (m *Migrator) Options() *config.MigrateOptions {
	return m.opts
}

// MigrateAll migrates every instance of entity type t.
//
// Foreign keys referencing the entity that are not declared as dependents are
// discovered first and relocated along with the declared ones.
//
// Instances already carrying a conforming identifier are skipped, so the batch
// can be re-run. A failure is recorded for the instance and the batch moves on;
// steps already completed for a failed instance are not rolled back.
//
// Cancelling ctx stops the batch before the next instance; an instance in
// progress always runs to completion or failure. The partial report is then
// returned together with the context error.
func (m *Migrator) MigrateAll(ctx context.Context, t entity.Type) (*Report, error) {
	e, err := m.provider.Lookup(t)
	if err != nil {
		return nil, err
	}
	if err := m.opts.Validate(); err != nil {
		return nil, err
	}

	report := &Report{EntityType: t}
	if m.ledger != nil {
		report.RunID = m.ledger.RunID()
	}

	e, err = m.resolveDependents(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect foreign keys referencing %s: %w", t, err)
	}

	instances, err := m.instances(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s instances: %w", t, err)
	}

	m.logger.Info("Migrating entities", "type", t, "strategy", m.opts.Strategy, "instances", len(instances), "runID", report.RunID)

	for i, inst := range instances {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("Stopping migration", "type", t, "remaining", len(instances)-i, "error", err)
			return report, err
		}
		report.add(m.migrateOne(context.WithoutCancel(ctx), e, inst))
	}

	m.logger.Info("Migration finished", "type", t,
		"succeeded", report.Succeeded, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (m *Migrator) migrateOne(ctx context.Context, e *entity.Entity, inst instance) Result {
	res := Result{OldID: inst.id, Name: inst.name}

	if e.IsMigrated(inst.id) {
		res.Outcome = OutcomeSkipped
		m.logger.Info("Skipping entity", "type", e.Type, "name", inst.name, "oldID", inst.id, "outcome", res.Outcome)
		return res
	}

	if err := m.runJob(ctx, e, &res); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		m.record(ctx, e, &res, ledger.StepFailed, err)
		m.logger.Error("Entity migration failed", "type", e.Type, "name", inst.name,
			"oldID", res.OldID, "newID", res.NewID, "step", res.Step, "outcome", res.Outcome, "error", err)
		return res
	}

	res.Outcome = OutcomeSucceeded
	m.logger.Info("Migrated entity", "type", e.Type, "name", inst.name,
		"oldID", res.OldID, "newID", res.NewID, "outcome", res.Outcome, "linksRewritten", res.LinksRewritten)
	return res
}

func (m *Migrator) runJob(ctx context.Context, e *entity.Entity, res *Result) error {
	newID, err := m.generator.Generate(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to generate identifier: %w", err)
	}
	res.NewID = newID
	m.advance(ctx, e, res, ledger.StepGenerated)

	switch m.opts.Strategy {
	case config.StrategyCopy:
		return m.copyAndRetire(ctx, e, res)
	case config.StrategyInPlace:
		return m.renameInPlace(ctx, e, res)
	default:
		return fmt.Errorf("unsupported strategy: %q", m.opts.Strategy)
	}
}

// copyAndRetire keeps foreign keys enforced: the new row exists before any
// dependent is pointed at it, and the old row is deleted last.
func (m *Migrator) copyAndRetire(ctx context.Context, e *entity.Entity, res *Result) error {
	if err := m.relocator.CopyEntity(ctx, e, res.OldID, res.NewID); err != nil {
		return err
	}

	counts, err := m.relocator.Relocate(ctx, e, res.OldID, res.NewID)
	res.Relocated = counts
	if err != nil {
		return err
	}
	// Checked before deleting: cascading keys would otherwise remove the rows.
	if err := m.relocator.VerifyRelocated(ctx, e, res.OldID); err != nil {
		return err
	}
	m.advance(ctx, e, res, ledger.StepRelocated)

	if err := m.rewrite(ctx, e, res); err != nil {
		return err
	}

	if err := m.relocator.Retire(ctx, e, res.OldID); err != nil {
		return err
	}
	m.advance(ctx, e, res, ledger.StepRetired)
	return nil
}

// renameInPlace suspends foreign key enforcement only around the raw key
// updates. Link rewriting does not need the relaxed window.
func (m *Migrator) renameInPlace(ctx context.Context, e *entity.Entity, res *Result) error {
	err := m.session.WithRelaxedConstraints(ctx, func(ctx context.Context) error {
		if err := m.relocator.RenameKey(ctx, e, res.OldID, res.NewID); err != nil {
			return err
		}
		counts, err := m.relocator.Relocate(ctx, e, res.OldID, res.NewID)
		res.Relocated = counts
		if err != nil {
			return err
		}
		// Nothing checks references while enforcement is relaxed.
		return m.relocator.VerifyRelocated(ctx, e, res.OldID)
	})
	if err != nil {
		return err
	}
	m.advance(ctx, e, res, ledger.StepRelocated)

	if err := m.rewrite(ctx, e, res); err != nil {
		return err
	}

	// The rename already removed the old identifier.
	m.advance(ctx, e, res, ledger.StepRetired)
	return nil
}

func (m *Migrator) rewrite(ctx context.Context, e *entity.Entity, res *Result) error {
	n, err := m.rewriter.Rewrite(ctx, res.OldID, res.NewID, e.LinkPrefixes)
	res.LinksRewritten = n
	if err != nil {
		return err
	}
	m.advance(ctx, e, res, ledger.StepRewritten)
	return nil
}

func (m *Migrator) advance(ctx context.Context, e *entity.Entity, res *Result, step ledger.Step) {
	res.Step = step
	m.record(ctx, e, res, step, nil)
	m.logger.Debug("Migration step completed", "type", e.Type, "oldID", res.OldID, "newID", res.NewID, "step", step)
}

// record never fails a migration: the ledger is an aid for manual cleanup.
func (m *Migrator) record(ctx context.Context, e *entity.Entity, res *Result, step ledger.Step, stepErr error) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.Record(ctx, e.Type, res.OldID, res.NewID, step, stepErr); err != nil {
		m.logger.Warn("Failed to record ledger step", "type", e.Type, "oldID", res.OldID, "step", step, "error", err)
	}
}

// instances snapshots every instance of e ordered by identifier. The snapshot
// is read completely before any row is changed.
func (m *Migrator) instances(ctx context.Context, e *entity.Entity) ([]instance, error) {
	d := m.session.Dialect()
	nameExpr := "NULL"
	if e.NameColumn != "" {
		nameExpr = d.QuoteIdent(e.NameColumn)
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s",
		d.QuoteIdent(e.IDColumn), nameExpr, d.QuoteIdent(e.Table), d.QuoteIdent(e.IDColumn))

	rows, err := m.session.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []instance
	for rows.Next() {
		var (
			id   string
			name sql.NullString
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", e.Table, err)
		}
		out = append(out, instance{id: id, name: name.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", e.Table, err)
	}
	return out, nil
}
