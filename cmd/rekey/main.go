// Command rekey moves legacy entity identifiers of the fitness app database to
// fixed-length numeric identifiers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stokaro/rekey/cmd/ledger"
	"github.com/stokaro/rekey/cmd/migrate"
	"github.com/stokaro/rekey/cmd/plan"
)

func newRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "rekey",
		Short: "Re-key legacy group, event and challenge identifiers",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(plan.NewPlanCommand())
	rootCmd.AddCommand(ledger.NewLedgerCommand())
	return rootCmd
}

func main() {
	// An interrupt stops the batch before the next instance.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
