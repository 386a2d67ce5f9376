package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"workspace": "/ws",
		"model": "claude-sonnet",
		"parallelism": 5,
		"strict_extraction": true
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/ws", cfg.Workspace)
	assert.Equal(t, "claude-sonnet", cfg.Model)
	assert.Equal(t, 5, cfg.Parallelism)
	assert.True(t, cfg.StrictExtraction)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Workspace: "/ws"}
	cfg.ApplyDefaults()

	assert.Equal(t, filepath.Join("/ws", "vault"), cfg.Vault)
	assert.Equal(t, filepath.Join("/ws", "memory"), cfg.Source)
	assert.Equal(t, filepath.Join("/ws", ".vault-agent", "run-state.json"), cfg.StatePath)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultSchedulerBin, cfg.SchedulerBin)
	assert.Equal(t, DefaultSessionTarget, cfg.SessionTarget)
	assert.Equal(t, DefaultParallelism, cfg.Parallelism)
	assert.Equal(t, DefaultTimeoutMinutes, cfg.TimeoutMinutes)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{Workspace: "/ws", Vault: "/elsewhere/vault", Parallelism: 8}
	cfg.ApplyDefaults()

	assert.Equal(t, "/elsewhere/vault", cfg.Vault)
	assert.Equal(t, 8, cfg.Parallelism)
}

func TestValidate(t *testing.T) {
	workspace := t.TempDir()
	source := filepath.Join(workspace, "memory")
	require.NoError(t, os.MkdirAll(source, 0o755))

	cfg := &Config{Workspace: workspace, Source: source}
	cfg.ApplyDefaults()
	cfg.Source = source
	require.NoError(t, cfg.Validate())
}

func TestValidateMissingWorkspace(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
}

func TestValidateWorkspaceNotADir(t *testing.T) {
	cfg := &Config{Workspace: filepath.Join(t.TempDir(), "missing")}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateRangeChecks(t *testing.T) {
	workspace := t.TempDir()
	cfg := &Config{Workspace: workspace, Parallelism: 99}
	require.Error(t, cfg.Validate())

	cfg = &Config{Workspace: workspace, TimeoutMinutes: 999}
	require.Error(t, cfg.Validate())
}
