package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/vault-agent/internal/observability"
	"github.com/jonathan/vault-agent/internal/runstate"
)

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted run state without contacting the scheduler",
	RunE:  runStatusCmd,
}

func init() {
	addConfigFlags(statusCommand)
	rootCmd.AddCommand(statusCommand)
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMergedConfig(cmd)
	if err != nil {
		return err
	}

	state, err := runstate.ReadFile(cfg.StatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("No run state at %s; nothing has been migrated yet.\n", cfg.StatePath)
			return nil
		}
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintRunState(state)
	if cfg.Verbose {
		printer.PrintTaskResults(state.Completed)
	}
	return nil
}
