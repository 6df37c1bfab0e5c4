package migrate

import (
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/rekey/cmd/internal/cmdutil"
	"github.com/stokaro/rekey/config"
	"github.com/stokaro/rekey/migration/entity"
	"github.com/stokaro/rekey/migration/ledger"
	"github.com/stokaro/rekey/migration/migrator"
)

const strategyFlag = "strategy"

// migrateRun holds the flag state of one migrate command instance.
type migrateRun struct {
	flags       map[string]cobraflags.Flag
	useLedger   bool
	maxAttempts int
}

func NewMigrateCommand() *cobra.Command {
	run := &migrateRun{flags: cmdutil.ConnectionFlags()}
	run.flags[strategyFlag] = &cobraflags.StringFlag{
		Name:  strategyFlag,
		Value: "",
		Usage: "Re-keying strategy (copy, in-place). Defaults to the configured strategy",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate <group|event|challenge>",
		Short: "Re-key legacy identifiers of one entity type",
		Long: `Re-key every instance of one entity type from its legacy identifier to a
fixed-length numeric identifier (6 digits for groups and events, 8 digits for
challenges).

Dependent foreign keys and embedded links are moved to the new identifier and
the old identifier is retired. Instances that already carry a conforming
identifier are skipped, so the command can be re-run after a partial failure.

Strategies:
  copy       - insert a copy under the new id, move dependents, delete the old row (default)
  in-place   - rename the key with foreign key enforcement suspended for the session

Examples:
  rekey migrate group --db-url postgres://localhost/app
  rekey migrate event --strategy in-place --ledger
  REKEY_DATABASE_URL=sqlite://app.db rekey migrate challenge`,
		Args: cobra.ExactArgs(1),
		RunE: run.migrateCommand,
	}

	cobraflags.RegisterMap(migrateCmd, run.flags)
	migrateCmd.Flags().BoolVar(&run.useLedger, "ledger", false, "Persist every step to the rekey_ledger table")
	migrateCmd.Flags().IntVar(&run.maxAttempts, "max-attempts", 0, "Candidate identifiers drawn per instance before giving up (0 keeps the configured value)")
	return migrateCmd
}

func (r *migrateRun) migrateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	t, err := entity.ParseType(args[0])
	if err != nil {
		return err
	}

	env, err := cmdutil.Open(ctx, r.flags)
	if err != nil {
		return err
	}
	defer env.Close()

	opts, err := env.Config.MigrateOptions()
	if err != nil {
		return err
	}
	if s := r.flags[strategyFlag].GetString(); s != "" {
		if opts.Strategy, err = config.ParseStrategy(s); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("ledger") {
		opts.Ledger = r.useLedger
	}
	if r.maxAttempts > 0 {
		opts.MaxAttempts = r.maxAttempts
	}

	m := migrator.NewMigrator(env.Session, env.Provider, opts)
	if opts.Ledger {
		l := ledger.NewLedger(env.Session)
		if err := l.Initialize(ctx); err != nil {
			return err
		}
		m = m.WithLedger(l)
	}

	title := cmdutil.Title(t)
	fmt.Printf("Migrating %s identifiers (strategy: %s)\n", title, opts.Strategy)
	fmt.Println(strings.Repeat("=", 36))
	fmt.Println()

	report, runErr := m.MigrateAll(ctx, t)
	if report != nil {
		printReport(title, report)
	}
	if runErr != nil {
		return fmt.Errorf("migration stopped: %w", runErr)
	}

	return nil
}

var outcomeMarks = map[migrator.Outcome]string{
	migrator.OutcomeSucceeded: "✅",
	migrator.OutcomeSkipped:   "⏭",
	migrator.OutcomeFailed:    "❌",
}

func printReport(title string, report *migrator.Report) {
	for _, res := range report.Results {
		switch res.Outcome {
		case migrator.OutcomeSucceeded:
			fmt.Printf("%s %s %q: %s -> %s (%d links)\n", outcomeMarks[res.Outcome], title, res.Name, res.OldID, res.NewID, res.LinksRewritten)
		case migrator.OutcomeSkipped:
			fmt.Printf("%s %s %q: %s already migrated\n", outcomeMarks[res.Outcome], title, res.Name, res.OldID)
		default:
			fmt.Printf("%s %s %q: %s failed after step %q: %v\n", outcomeMarks[res.Outcome], title, res.Name, res.OldID, stepOrNone(res.Step), res.Err)
		}
	}

	fmt.Println()
	fmt.Printf("%s: %d succeeded, %d skipped, %d failed (%d total)\n",
		title, report.Succeeded, report.Skipped, report.Failed, report.Total())
	if report.RunID != "" {
		fmt.Printf("Ledger run: %s\n", report.RunID)
	}
}

func stepOrNone(s ledger.Step) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
