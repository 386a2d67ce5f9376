// Package main provides the entry point for the vault migration agent CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vault_agent",
	Short: "Legacy memory store to knowledge vault migration orchestrator",
	Long:  "vault_agent migrates a flat-file memory store into a structured knowledge vault by dispatching one delegate job per source file through an external scheduler, with resumable progress, a final synthesis pass, and a guarded destructive cleanup.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
