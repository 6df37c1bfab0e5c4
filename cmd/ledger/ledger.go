package ledger

import (
	"fmt"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/rekey/cmd/internal/cmdutil"
	"github.com/stokaro/rekey/migration/ledger"
)

const runFlag = "run"

func NewLedgerCommand() *cobra.Command {
	flags := cmdutil.ConnectionFlags()
	flags[runFlag] = &cobraflags.StringFlag{
		Name:  runFlag,
		Value: "",
		Usage: "Only show entries of this run id",
	}

	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Print recorded migration steps",
		Long: `Print the steps recorded by "rekey migrate --ledger". Failed instances show the
last step they reached, which is where manual cleanup starts.

Examples:
  rekey ledger --db-url postgres://localhost/app
  rekey ledger --run 7f9c2d1e-0b5a-4c43-9a0e-2f4d6b8e1a33`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ledgerCommand(cmd, flags)
		},
	}

	cobraflags.RegisterMap(ledgerCmd, flags)
	return ledgerCmd
}

func ledgerCommand(cmd *cobra.Command, flags map[string]cobraflags.Flag) error {
	ctx := cmd.Context()

	env, err := cmdutil.Open(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	runID := flags[runFlag].GetString()
	entries, err := ledger.NewLedgerForRun(env.Session, runID).Entries(ctx, runID)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No ledger entries found")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %s #%d  %-9s %s %s -> %s",
			e.RecordedAt.Format(time.RFC3339), e.RunID, e.Seq, e.Step, e.EntityType, e.OldID, e.NewID)
		if e.Error != "" {
			line += ": " + e.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d entries\n", len(entries))

	return nil
}
