package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/delegated/internal/ledger"
)

var budgetWatch bool

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show the session ledger summary",
	Long: `Show session token usage, remaining budget, and per-agent totals.

Examples:
  # One-shot summary
  dlgd budget

  # Re-render whenever another process updates the ledger
  dlgd budget --watch`,
	RunE: runBudget,
}

func init() {
	budgetCmd.Flags().BoolVar(&budgetWatch, "watch", false, "re-render on ledger changes until interrupted")
}

func runBudget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.openLedger(); err != nil {
		return err
	}

	renderSummary(cmd, a.ledger.Summary(ctx))
	if !budgetWatch {
		return nil
	}

	watcher, err := ledger.NewWatcher(a.cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	watchCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(watchCtx); err != nil {
		return err
	}

	for {
		select {
		case <-watchCtx.Done():
			return nil
		case <-watcher.Events():
			renderSummary(cmd, a.ledger.Summary(watchCtx))
		}
	}
}

func renderSummary(cmd *cobra.Command, summary ledger.Summary) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "tokens used: %d / %d (remaining %d)\n",
		summary.TotalTokens, summary.BudgetLimit, summary.RemainingTokens)
	fmt.Fprintf(out, "calls: %d\n", summary.TotalCalls)
	if summary.Degraded {
		fmt.Fprintln(out, "warning: ledger degraded, totals may be stale")
	}
	if len(summary.ByAgent) == 0 {
		return
	}

	agents := make([]string, 0, len(summary.ByAgent))
	for agent := range summary.ByAgent {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tCALLS\tTOKENS")
	for _, agent := range agents {
		usage := summary.ByAgent[agent]
		fmt.Fprintf(w, "%s\t%d\t%d\n", agent, usage.Calls, usage.Tokens)
	}
	_ = w.Flush()
}
