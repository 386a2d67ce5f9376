// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Defaults applied when neither config file nor flags set a value.
const (
	DefaultModel          = "claude-opus"
	DefaultParallelism    = 3
	DefaultTimeoutMinutes = 30
	DefaultSessionTarget  = "isolated"
	DefaultSchedulerBin   = "openclaw"
)

// Config represents the CLI configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults or must be
// provided via CLI flags.
type Config struct {
	// Paths
	Workspace string `json:"workspace,omitempty"`  // Workspace root containing the memory store and vault
	Vault     string `json:"vault,omitempty"`      // Vault directory (default <workspace>/vault)
	Source    string `json:"source,omitempty"`     // Legacy memory store directory (default <workspace>/memory)
	StatePath string `json:"state_path,omitempty"` // Run-state file (default <workspace>/.vault-agent/run-state.json)

	// Delegate
	Model          string `json:"model,omitempty"`                                    // Model identifier forwarded to the scheduler
	SchedulerBin   string `json:"scheduler_bin,omitempty"`                            // Scheduler CLI binary
	SessionTarget  string `json:"session_target,omitempty"`                          // Session the delegate runs in
	TimeoutMinutes int    `json:"timeout_minutes,omitempty" validate:"gte=0,lte=240"` // Per-job wait budget

	// Behavior
	Parallelism      int    `json:"parallelism,omitempty" validate:"gte=0,lte=32"` // Concurrent in-flight jobs
	StrictExtraction bool   `json:"strict_extraction,omitempty"`                   // Require the minimal {summary} JSON schema
	DatabaseURL      string `json:"database_url,omitempty"`                        // PostgreSQL connection URL (optional audit trail)
	Verbose          bool   `json:"verbose,omitempty"`                             // Print detailed debug information
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields from the workspace layout and the package
// defaults. Workspace must be set before calling.
func (c *Config) ApplyDefaults() {
	if c.Vault == "" && c.Workspace != "" {
		c.Vault = filepath.Join(c.Workspace, "vault")
	}
	if c.Source == "" && c.Workspace != "" {
		c.Source = filepath.Join(c.Workspace, "memory")
	}
	if c.StatePath == "" && c.Workspace != "" {
		c.StatePath = filepath.Join(c.Workspace, ".vault-agent", "run-state.json")
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.SchedulerBin == "" {
		c.SchedulerBin = DefaultSchedulerBin
	}
	if c.SessionTarget == "" {
		c.SessionTarget = DefaultSessionTarget
	}
	if c.TimeoutMinutes == 0 {
		c.TimeoutMinutes = DefaultTimeoutMinutes
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
}

// Validate checks that the configuration has valid values. Required fields
// are checked here since the CLI merges flags before validating.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("config error: 'workspace' is required")
	}
	if info, err := os.Stat(c.Workspace); err != nil || !info.IsDir() {
		return fmt.Errorf("config error: workspace directory not found: %s", c.Workspace)
	}
	if c.Source != "" {
		if info, err := os.Stat(c.Source); err != nil || !info.IsDir() {
			return fmt.Errorf("config error: source directory not found: %s", c.Source)
		}
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}
