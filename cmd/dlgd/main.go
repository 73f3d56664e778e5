// Package main implements the dlgd CLI for delegated subagent calls:
// the full call lifecycle, the safety gate, and ledger operations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/delegated/internal/audit"
	"github.com/fyrsmithlabs/delegated/internal/config"
	"github.com/fyrsmithlabs/delegated/internal/guard"
	"github.com/fyrsmithlabs/delegated/internal/ledger"
	"github.com/fyrsmithlabs/delegated/internal/logging"
	"github.com/fyrsmithlabs/delegated/internal/paths"
	"github.com/fyrsmithlabs/delegated/internal/secrets"
	"github.com/fyrsmithlabs/delegated/internal/telemetry"
)

// version information, set via -ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dlgd",
	Short: "Coordinate delegated calls to external subagents",
	Long: `dlgd coordinates calls from a coding assistant to external subagent
processes. Every call passes the safety gate before leaving the machine and
is charged against a cross-process session ledger.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dlgd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// app carries the wired services shared by the commands. Commands build
// only what they need: newApp wires config, logging, and telemetry;
// openLedger and buildGate add the rest on demand.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	ledger ledger.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}

	logCfg := logging.NewDefaultConfig()
	if level, err := logging.LevelFromString(cfg.Logging.Level); err == nil {
		logCfg.Level = level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func (a *app) close(ctx context.Context) {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn(ctx, "failed to close ledger")
		}
	}
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.telemetry.Shutdown(shutdownCtx)
	}
	_ = a.logger.Sync()
}

// openLedger builds the ledger service for the configured backend.
func (a *app) openLedger() error {
	limits := ledger.Limits{
		BudgetLimit:   a.cfg.Ledger.BudgetLimit,
		MaxConcurrent: a.cfg.Ledger.MaxConcurrent,
	}

	var store ledger.Store
	switch a.cfg.Ledger.Backend {
	case "sqlite":
		s, err := ledger.NewSQLiteStore(a.cfg.Ledger.Path, limits)
		if err != nil {
			return fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		store = s
	default:
		store = ledger.NewFileStore(a.cfg.Ledger.Path, limits)
	}

	svc, err := ledger.NewService(store, limits, a.logger.Underlying())
	if err != nil {
		return err
	}
	a.ledger = svc
	return nil
}

// buildGate wires the safety gate: built-in scrubber, optional gitleaks
// deep scan, audit trail, and the trusted-root set.
func (a *app) buildGate(ctx context.Context) (guard.Service, error) {
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, err
	}

	projectDir := a.cfg.Gate.ProjectDir
	if projectDir == "" {
		cwd, err := os.Getwd()
		if err == nil {
			if root, err := paths.DetectProjectRoot(cwd); err == nil {
				projectDir = root
			}
		}
	}

	var deep secrets.Scrubber
	if a.cfg.Gate.DeepScan {
		allowlist, err := secrets.LoadAllowlists(projectDir, filepath.Join(configDir, "allowlist.toml"))
		if err != nil {
			return nil, fmt.Errorf("failed to load scan allowlists: %w", err)
		}
		deep, err = secrets.NewDeepScrubber(allowlist)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize deep scanner: %w", err)
		}
	}

	trail := audit.Trail(audit.NopTrail{})
	if a.cfg.Audit.Enabled {
		trail = audit.New(a.cfg.Audit.Path, a.logger.Underlying())
	}

	return guard.NewService(&guard.Config{
		ConsentPolicy:  a.cfg.Gate.ConsentPolicy,
		StrictOrigin:   a.cfg.Gate.StrictOrigin,
		MaxContentSize: a.cfg.Gate.MaxContentSize,
		ConfigDir:      configDir,
		ProjectDir:     projectDir,
		AllowedDirs:    a.cfg.Gate.AllowedDirs,
	}, nil, deep, trail, a.logger.Underlying())
}

// readContent reads command input from a file argument or stdin ("-" or
// no argument).
func readContent(arg string) (string, error) {
	if arg == "" || arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return string(data), nil
}

// printJSON writes v to the command's stdout as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
