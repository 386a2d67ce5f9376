package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/vault-agent/internal/runstate"
	"github.com/jonathan/vault-agent/internal/tasks"
)

var planCommand = &cobra.Command{
	Use:   "plan",
	Short: "Show what a migration run would do without dispatching any jobs",
	RunE:  runPlanCmd,
}

func init() {
	addConfigFlags(planCommand)
	rootCmd.AddCommand(planCommand)
}

func runPlanCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMergedConfig(cmd)
	if err != nil {
		return err
	}

	taskList, err := tasks.Enumerate(cfg.Source)
	if err != nil {
		return err
	}

	ident := runstate.Identity{
		WorkspacePath: cfg.Workspace,
		VaultPath:     cfg.Vault,
		Model:         cfg.Model,
	}
	store, err := runstate.Load(cfg.StatePath, ident, tasks.IDs(taskList))
	if err != nil {
		return err
	}

	pending := 0
	for _, t := range taskList {
		marker := "pending"
		if store.IsCompleted(t.ID) {
			marker = "done"
		} else {
			pending++
		}
		fmt.Printf("  [%-7s] %-5s %s\n", marker, t.Kind, t.RelPath)
	}
	fmt.Printf("%d of %d files pending (fingerprint %.12s...)\n", pending, len(taskList), store.Fingerprint())
	return nil
}
