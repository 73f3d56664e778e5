package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/delegated/internal/lifecycle"
	"github.com/fyrsmithlabs/delegated/internal/logging"
	"github.com/fyrsmithlabs/delegated/internal/resilience"
)

var (
	callAgent    string
	callContent  string
	callSources  []string
	callTimeout  time.Duration
	callEstimate int64
)

var callCmd = &cobra.Command{
	Use:   "call --agent NAME [flags] -- COMMAND [ARGS...]",
	Short: "Run a delegate command through the full call lifecycle",
	Long: `Run a delegate command with the complete call sequence: budget check,
slot acquisition, safety gate, retries with backoff, and usage recording.
The task content is piped to the command's stdin after sanitization; stdout
becomes the payload.

Examples:
  # Delegate a task read from stdin to codex
  echo "summarize this diff" | dlgd call --agent codex -- codex exec -

  # Task from a file, with provenance
  dlgd call --agent gemini --content task.md --sources src/main.go -- gemini -p -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callAgent, "agent", "", "delegate agent name (required)")
	callCmd.Flags().StringVar(&callContent, "content", "-", "task content file, or - for stdin")
	callCmd.Flags().StringSliceVar(&callSources, "sources", nil, "provenance paths for the task content")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "per-attempt timeout before scaling (default from config)")
	callCmd.Flags().Int64Var(&callEstimate, "estimate", 0, "token estimate for the budget check (default from config)")
	_ = callCmd.MarkFlagRequired("agent")
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := logging.WithInvocationID(cmd.Context(), uuid.New().String())
	ctx = logging.WithAgent(ctx, callAgent)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.openLedger(); err != nil {
		return err
	}
	gate, err := a.buildGate(ctx)
	if err != nil {
		return err
	}

	task, err := readContent(callContent)
	if err != nil {
		return err
	}
	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("no task content provided")
	}

	timeout := a.cfg.Lifecycle.BaseTimeout
	if callTimeout > 0 {
		timeout = callTimeout
	}
	adapter, err := lifecycle.NewCommandAdapter(args, timeout)
	if err != nil {
		return err
	}

	retryer := resilience.NewRetryer(resilience.Policy{
		MaxRetries:        a.cfg.Retry.MaxRetries,
		BaseDelay:         a.cfg.Retry.BaseDelay,
		MaxDelay:          a.cfg.Retry.MaxDelay,
		TimeoutMultiplier: a.cfg.Retry.TimeoutMultiplier,
	}, a.logger.Underlying())

	coordinator, err := lifecycle.NewCoordinator(lifecycle.Config{
		EstimatedTokens: a.cfg.Lifecycle.EstimatedTokens,
		MinRecordTokens: a.cfg.Lifecycle.MinRecordTokens,
		RateLimit:       a.cfg.Lifecycle.RateLimit,
		RateBurst:       a.cfg.Lifecycle.RateBurst,
	}, a.ledger, gate, retryer, a.logger.Underlying())
	if err != nil {
		return err
	}

	result, err := coordinator.Invoke(ctx, adapter, lifecycle.CallRequest{
		AgentID:         callAgent,
		Task:            task,
		Sources:         callSources,
		EstimatedTokens: callEstimate,
	})
	if err != nil {
		// Blocked calls still have a result worth showing.
		if result != nil && errors.Is(err, lifecycle.ErrContextBlocked) {
			_ = printJSON(cmd, result)
		}
		return err
	}

	if err := printJSON(cmd, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("delegate call failed: %s", result.Error)
	}
	return nil
}
