package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the session ledger",
	Long: `Zero the session's token usage, in-flight count, and call log, and
restore the configured limits. Run this at session boundaries.`,
	RunE: runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.openLedger(); err != nil {
		return err
	}

	if err := a.ledger.ResetSession(ctx); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "session ledger reset")
	return nil
}
