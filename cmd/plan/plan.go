package plan

import (
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/rekey/cmd/internal/cmdutil"
	"github.com/stokaro/rekey/config"
	"github.com/stokaro/rekey/migration/migrator"
)

func NewPlanCommand() *cobra.Command {
	flags := cmdutil.ConnectionFlags()

	planCmd := &cobra.Command{
		Use:   "plan [group|event|challenge]...",
		Short: "Show what a migration would do without changing anything",
		Long: `Count legacy identifiers per entity type and list foreign keys that reference
an entity table without being declared as dependents. Such keys are discovered
again by migrate and relocated together with the declared dependents.

Without arguments every entity type is inspected.

Examples:
  rekey plan --db-url postgres://localhost/app
  rekey plan group event`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return planCommand(cmd, args, flags)
		},
	}

	cobraflags.RegisterMap(planCmd, flags)
	return planCmd
}

func planCommand(cmd *cobra.Command, args []string, flags map[string]cobraflags.Flag) error {
	ctx := cmd.Context()

	env, err := cmdutil.Open(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	types, err := cmdutil.EntityTypes(env.Provider, args)
	if err != nil {
		return err
	}

	m := migrator.NewMigrator(env.Session, env.Provider, config.DefaultMigrateOptions())

	for _, t := range types {
		p, err := m.Plan(ctx, t)
		if err != nil {
			return fmt.Errorf("error planning %s migration: %w", t, err)
		}
		printPlan(cmdutil.Title(t), p)
	}

	return nil
}

func printPlan(title string, p *migrator.Plan) {
	heading := fmt.Sprintf("=== %s (%s) ===", strings.ToUpper(title), p.Table)
	fmt.Println(heading)
	fmt.Printf("Instances: %d, legacy: %d\n", p.Total, len(p.Legacy))

	for _, id := range p.Legacy {
		fmt.Printf("  %s\n", id)
	}

	if len(p.Undeclared) > 0 {
		fmt.Println()
		fmt.Println("⚠️  Undeclared foreign keys (relocated as additional dependents):")
		for _, fk := range p.Undeclared {
			fmt.Printf("  %s.%s -> %s.%s (%s)\n", fk.TableName, fk.ColumnName, fk.ForeignTable, fk.ForeignColumn, fk.Name)
		}
	}
	fmt.Println()
}
