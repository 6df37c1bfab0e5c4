// Package ledger persists the step reached by every identifier migration job,
// so that a crashed or failed run can be inspected and cleaned up by hand.
package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stokaro/rekey/dbschema"
	"github.com/stokaro/rekey/migration/entity"
)

//go:embed base/schema.sql
var schemaSQL string

//go:embed base/record_step.sql
var recordStepSQL string

//go:embed base/list_entries.sql
var listEntriesSQL string

//go:embed base/list_run_entries.sql
var listRunEntriesSQL string

//go:embed base/next_seq.sql
var nextSeqSQL string

// Step is a migration job lifecycle state.
type Step string

const (
	StepGenerated Step = "generated"
	StepRelocated Step = "relocated"
	StepRewritten Step = "rewritten"
	StepRetired   Step = "retired"
	StepFailed    Step = "failed"
)

// Entry is one persisted step transition
type Entry struct {
	RunID      string      `json:"run_id"`
	Seq        int         `json:"seq"`
	EntityType entity.Type `json:"entity_type"`
	OldID      string      `json:"old_id"`
	NewID      string      `json:"new_id"`
	Step       Step        `json:"step"`
	Error      string      `json:"error,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Ledger appends step transitions to the rekey_ledger table.
type Ledger struct {
	store       dbschema.Store
	runID       string
	seq         int
	now         func() time.Time
	initialized bool
}

// NewLedger creates a ledger for a new run with a random run id.
func NewLedger(store dbschema.Store) *Ledger {
	return NewLedgerForRun(store, uuid.NewString())
}

// NewLedgerForRun creates a ledger that appends to an existing or given run id.
func NewLedgerForRun(store dbschema.Store, runID string) *Ledger {
	return &Ledger{
		store: store,
		runID: runID,
		now:   time.Now,
	}
}

// WithClock sets the time source used for recorded_at
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	tmp := *l
	tmp.now = now
	return &tmp
}

// RunID returns the identifier of the run this ledger appends to
func (l *Ledger) RunID() string {
	return l.runID
}

// Initialize creates the ledger table if it doesn't exist
func (l *Ledger) Initialize(ctx context.Context) error {
	if l.initialized {
		return nil
	}

	if _, err := l.store.ExecContext(ctx, strings.TrimSpace(schemaSQL)); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}

	var seq int
	if err := l.store.QueryRowContext(ctx, l.store.Dialect().Rebind(nextSeqSQL), l.runID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read ledger sequence: %w", err)
	}
	l.seq = seq

	l.initialized = true
	return nil
}

// Record appends a step transition for one job.
func (l *Ledger) Record(ctx context.Context, t entity.Type, oldID, newID string, step Step, stepErr error) error {
	if err := l.Initialize(ctx); err != nil {
		return err
	}

	var msg any
	if stepErr != nil {
		msg = stepErr.Error()
	}

	seq := l.seq + 1
	_, err := l.store.ExecContext(ctx, l.store.Dialect().Rebind(recordStepSQL),
		l.runID, seq, string(t), oldID, newID, string(step), msg, l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record ledger step %s for %s %q: %w", step, t, oldID, err)
	}

	l.seq = seq
	return nil
}

// Entries returns the entries of runID, or of every run when runID is empty.
func (l *Ledger) Entries(ctx context.Context, runID string) ([]Entry, error) {
	if err := l.Initialize(ctx); err != nil {
		return nil, err
	}

	query, args := listEntriesSQL, []any(nil)
	if runID != "" {
		query, args = listRunEntriesSQL, []any{runID}
	}

	rows, err := l.store.QueryContext(ctx, l.store.Dialect().Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			entityType string
			step       string
			recordedAt int64
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &entityType, &e.OldID, &e.NewID, &step, &e.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.EntityType = entity.Type(entityType)
		e.Step = Step(step)
		e.RecordedAt = time.UnixMilli(recordedAt)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}

	return entries, nil
}
