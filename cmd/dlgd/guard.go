package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var guardSources []string

var guardCmd = &cobra.Command{
	Use:   "guard [FILE|-]",
	Short: "Run content through the safety gate without calling a delegate",
	Long: `Run content through the safety gate alone: size cap, origin policy,
directory allowlist, file blocklist, and secret scan. Prints the decision
and the sanitized content. Exits 1 when the content is rejected.

Examples:
  # Check a file before sending it anywhere
  dlgd guard --sources src/main.go notes.md

  # Check stdin
  git diff | dlgd guard -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGuard,
}

func init() {
	guardCmd.Flags().StringSliceVar(&guardSources, "sources", nil, "provenance paths for the content")
}

func runGuard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	gate, err := a.buildGate(ctx)
	if err != nil {
		return err
	}

	arg := ""
	if len(args) == 1 {
		arg = args[0]
	}
	sources := guardSources
	if arg != "" && arg != "-" && len(sources) == 0 {
		// A file argument is its own provenance unless overridden.
		sources = []string{arg}
	}

	content, err := readContent(arg)
	if err != nil {
		return err
	}

	decision := gate.Guard(ctx, content, sources)
	if err := printJSON(cmd, decision); err != nil {
		return err
	}
	if decision.Rejected() {
		return fmt.Errorf("content rejected: %s", decision.Reason)
	}
	return nil
}
