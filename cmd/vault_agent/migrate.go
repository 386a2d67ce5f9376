package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/vault-agent/internal/config"
	"github.com/jonathan/vault-agent/internal/observability"
	"github.com/jonathan/vault-agent/internal/pipeline"
	"github.com/jonathan/vault-agent/internal/scheduler"
	"github.com/jonathan/vault-agent/internal/tasks"
)

var migrateCommand = &cobra.Command{
	Use:   "migrate",
	Short: "Run the full memory-store migration pipeline end-to-end",
	Long: `Enumerates the legacy memory store, dispatches one delegate job per pending file under bounded concurrency, waits for every job to settle, runs the final synthesis pass, and clears the source store once the whole batch succeeded.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values. Progress is resumable: re-running skips already-completed files.`,
	RunE: runMigrateCmd,
}

var (
	migrateConfigPath     string
	migrateWorkspace      string
	migrateVault          string
	migrateSource         string
	migrateStatePath      string
	migrateModel          string
	migrateSchedulerBin   string
	migrateSessionTarget  string
	migrateParallelism    int
	migrateTimeoutMinutes int
	migrateStrict         bool
	migrateDatabaseURL    string
	migrateVerbose        bool
)

// addConfigFlags registers the shared configuration flags. The migrate,
// plan, and status commands all resolve the same merged configuration.
func addConfigFlags(cmd *cobra.Command) {
	// Config file flag (processed first)
	cmd.Flags().StringVar(&migrateConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	cmd.Flags().StringVarP(&migrateWorkspace, "workspace", "w", "", "Workspace root containing the memory store and vault")
	cmd.Flags().StringVar(&migrateVault, "vault", "", "Vault directory (defaults to <workspace>/vault)")
	cmd.Flags().StringVar(&migrateSource, "source", "", "Legacy memory store directory (defaults to <workspace>/memory)")
	cmd.Flags().StringVar(&migrateStatePath, "state", "", "Run-state file path (defaults to <workspace>/.vault-agent/run-state.json)")
	cmd.Flags().StringVarP(&migrateModel, "model", "m", "", "Model identifier forwarded to the scheduler")
	cmd.Flags().StringVar(&migrateSchedulerBin, "scheduler-bin", "", "Scheduler CLI binary name or path")
	cmd.Flags().StringVar(&migrateSessionTarget, "session-target", "", "Scheduler session the delegate runs in")
	cmd.Flags().IntVarP(&migrateParallelism, "parallelism", "p", 0, "Maximum concurrent in-flight jobs")
	cmd.Flags().IntVar(&migrateTimeoutMinutes, "timeout-minutes", 0, "Per-job wait budget in minutes")
	cmd.Flags().BoolVar(&migrateStrict, "strict-extraction", false, "Require the minimal {summary} JSON response schema")
	cmd.Flags().BoolVarP(&migrateVerbose, "verbose", "v", false, "Print detailed debug information")

	// Database URL for the optional audit trail
	cmd.Flags().StringVar(&migrateDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
}

func init() {
	addConfigFlags(migrateCommand)
	rootCmd.AddCommand(migrateCommand)
}

// loadMergedConfig loads the config file (if given), applies CLI overrides
// for explicitly-set flags, fills defaults, and validates.
func loadMergedConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg config.Config
	if migrateConfigPath != "" {
		loaded, err := config.LoadConfig(migrateConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
		if migrateVerbose {
			_, _ = fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", migrateConfigPath)
		}
	}

	// CLI overrides only apply when the flag was explicitly set.
	if cmd.Flags().Changed("workspace") {
		cfg.Workspace = migrateWorkspace
	}
	if cmd.Flags().Changed("vault") {
		cfg.Vault = migrateVault
	}
	if cmd.Flags().Changed("source") {
		cfg.Source = migrateSource
	}
	if cmd.Flags().Changed("state") {
		cfg.StatePath = migrateStatePath
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = migrateModel
	}
	if cmd.Flags().Changed("scheduler-bin") {
		cfg.SchedulerBin = migrateSchedulerBin
	}
	if cmd.Flags().Changed("session-target") {
		cfg.SessionTarget = migrateSessionTarget
	}
	if cmd.Flags().Changed("parallelism") {
		cfg.Parallelism = migrateParallelism
	}
	if cmd.Flags().Changed("timeout-minutes") {
		cfg.TimeoutMinutes = migrateTimeoutMinutes
	}
	if cmd.Flags().Changed("strict-extraction") {
		cfg.StrictExtraction = migrateStrict
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = migrateVerbose
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = migrateDatabaseURL
	} else if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runMigrateCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadMergedConfig(cmd)
	if err != nil {
		return err
	}

	taskList, err := tasks.Enumerate(cfg.Source)
	if err != nil {
		return err
	}
	if len(taskList) == 0 {
		fmt.Printf("Nothing to migrate: %s is empty.\n", cfg.Source)
		return nil
	}
	fmt.Printf("Migrating %d files from %s into %s...\n", len(taskList), cfg.Source, cfg.Vault)

	client := scheduler.NewJobClient(scheduler.NewCLIScheduler(cfg.SchedulerBin))
	if cfg.Verbose {
		client.OnDebug = func(line string) { fmt.Printf("[VERBOSE] %s\n", line) }
	}

	opts := pipeline.Options{
		WorkspacePath:    cfg.Workspace,
		VaultPath:        cfg.Vault,
		SourceDir:        cfg.Source,
		Model:            cfg.Model,
		SessionTarget:    cfg.SessionTarget,
		StatePath:        cfg.StatePath,
		Tasks:            taskList,
		Runner:           client,
		Parallelism:      cfg.Parallelism,
		JobTimeout:       time.Duration(cfg.TimeoutMinutes) * time.Minute,
		StrictExtraction: cfg.StrictExtraction,
		DatabaseURL:      cfg.DatabaseURL,
		OnProgress: func(line string) {
			fmt.Printf("Progress: %s\n", line)
		},
	}
	if cfg.Verbose {
		opts.OnDebug = func(line string) { fmt.Printf("[VERBOSE] %s\n", line) }
	}

	report, err := pipeline.Run(ctx, opts)
	if report != nil {
		printer := observability.NewPrinter(os.Stdout)
		printer.PrintReport(&observability.MigrationReport{
			TotalTasks:       report.TotalTasks,
			ProcessedTasks:   report.ProcessedTasks,
			SkippedTasks:     report.SkippedTasks,
			FailedTasks:      report.FailedTasks,
			Errors:           report.Errors,
			SynthesisSummary: report.SynthesisSummary,
			CleanupPerformed: report.CleanupPerformed,
		})
		if cfg.Verbose {
			printer.PrintTaskResults(report.Results)
		}
	}
	return err
}
