// Package runstate persists resumable migration progress. The state file is
// the only durable record of which tasks have completed; the scheduler
// substrate offers nothing.
package runstate

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/vault-agent/internal/types"
)

// Version is the current state-file schema version.
const Version = 1

// fingerprintSalt pins the fingerprint to this state schema; bumping it
// invalidates all prior state.
const fingerprintSalt = "vault-agent.run.v1"

// Identity names the (workspace, vault, model) combination a run belongs to.
type Identity struct {
	WorkspacePath string
	VaultPath     string
	Model         string
}

// RunState is the single persisted aggregate for one logical migration run.
type RunState struct {
	Version       int                               `json:"version"`
	Fingerprint   string                            `json:"fingerprint"`
	WorkspacePath string                            `json:"workspace_path"`
	VaultPath     string                            `json:"vault_path"`
	Model         string                            `json:"model"`
	CreatedAt     time.Time                         `json:"created_at"`
	UpdatedAt     time.Time                         `json:"updated_at"`
	Completed     map[string]types.StoredTaskResult `json:"completed"`

	SynthesisComplete bool `json:"synthesis_complete"`
	CleanupComplete   bool `json:"cleanup_complete"`
}

// Fingerprint computes the deterministic digest identifying a specific
// (workspace, vault, model, task-set) combination. Task ids are ordered so
// enumeration order does not matter.
func Fingerprint(ident Identity, taskIDs []string) string {
	ordered := make([]string, len(taskIDs))
	copy(ordered, taskIDs)
	sort.Strings(ordered)

	fields := []string{
		ident.WorkspacePath,
		ident.VaultPath,
		ident.Model,
		strings.Join(ordered, "\x1e"),
		fingerprintSalt,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// newState returns a fresh in-memory state for the given identity.
func newState(ident Identity, fingerprint string, now time.Time) *RunState {
	return &RunState{
		Version:       Version,
		Fingerprint:   fingerprint,
		WorkspacePath: ident.WorkspacePath,
		VaultPath:     ident.VaultPath,
		Model:         ident.Model,
		CreatedAt:     now,
		UpdatedAt:     now,
		Completed:     make(map[string]types.StoredTaskResult),
	}
}
