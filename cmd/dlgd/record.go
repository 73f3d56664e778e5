package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	recordAgent    string
	recordTokens   int64
	recordDuration time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record --agent NAME --tokens N [--duration D]",
	Short: "Record delegate usage in the session ledger",
	Long: `Record token usage for a call made outside dlgd, charging it against
the session budget. Intended for hook integration where the assistant
invokes the delegate itself.

Examples:
  dlgd record --agent codex --tokens 4200
  dlgd record --agent gemini --tokens 1500 --duration 12s`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordAgent, "agent", "", "delegate agent name (required)")
	recordCmd.Flags().Int64Var(&recordTokens, "tokens", 0, "tokens consumed (required)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "call duration")
	_ = recordCmd.MarkFlagRequired("agent")
	_ = recordCmd.MarkFlagRequired("tokens")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if recordTokens <= 0 {
		return fmt.Errorf("tokens must be positive, got %d", recordTokens)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.openLedger(); err != nil {
		return err
	}

	a.ledger.RecordCall(ctx, recordAgent, recordTokens, recordDuration)
	renderSummary(cmd, a.ledger.Summary(ctx))
	return nil
}
