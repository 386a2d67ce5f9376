package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonathan/vault-agent/internal/types"
)

// Store owns the run-state file. Every mutation happens under one mutex and
// is flushed to disk before the mutex is released, so the file never
// observes torn or out-of-order writes.
type Store struct {
	path  string
	mu    sync.Mutex
	state *RunState
	now   func() time.Time
}

// Load opens (or initializes) the run state at path for the given identity
// and task set.
//
// Prior state is discarded and a fresh run begins when the stored
// fingerprint disagrees with the current invocation's, or when the stored
// state already finished cleanup but new tasks are being supplied. A
// missing file is a fresh run; an unreadable or corrupt file is an error.
func Load(path string, ident Identity, taskIDs []string) (*Store, error) {
	fingerprint := Fingerprint(ident, taskIDs)
	store := &Store{
		path: path,
		now:  time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		store.state = newState(ident, fingerprint, store.now())
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state %s: %w", path, err)
	}

	var loaded RunState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse run state %s: %w", path, err)
	}

	if loaded.Fingerprint != fingerprint || loaded.Completed == nil {
		store.state = newState(ident, fingerprint, store.now())
		return store, nil
	}

	// A fully cleaned-up run being handed tasks it has not completed is a
	// fresh logical run over the same file.
	if loaded.CleanupComplete {
		for _, id := range taskIDs {
			if _, done := loaded.Completed[id]; !done {
				store.state = newState(ident, fingerprint, store.now())
				return store, nil
			}
		}
	}

	store.state = &loaded
	return store, nil
}

// Fingerprint returns the fingerprint of the active run.
func (s *Store) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Fingerprint
}

// Completed returns a copy of the completed-result map.
func (s *Store) Completed() map[string]types.StoredTaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.StoredTaskResult, len(s.state.Completed))
	for id, r := range s.state.Completed {
		out[id] = r
	}
	return out
}

// IsCompleted reports whether a task id is already recorded.
func (s *Store) IsCompleted(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Completed[taskID]
	return ok
}

// SynthesisComplete reports whether the final synthesis milestone was
// already persisted.
func (s *Store) SynthesisComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SynthesisComplete
}

// CleanupComplete reports whether the cleanup milestone was already
// persisted.
func (s *Store) CleanupComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CleanupComplete
}

// RecordResult writes one completed task result and flushes the file.
// Entries are immutable: recording an id twice keeps the first entry.
func (s *Store) RecordResult(result types.StoredTaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.Completed[result.TaskID]; exists {
		return nil
	}
	s.state.Completed[result.TaskID] = result
	return s.flushLocked()
}

// MarkSynthesisComplete persists the synthesis milestone.
func (s *Store) MarkSynthesisComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SynthesisComplete = true
	return s.flushLocked()
}

// MarkCleanupComplete persists the cleanup milestone.
func (s *Store) MarkCleanupComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CleanupComplete = true
	return s.flushLocked()
}

// Save flushes the current state unconditionally.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked rewrites the whole state file. Callers hold the mutex.
func (s *Store) flushLocked() error {
	s.state.UpdatedAt = s.now()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create run state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run state %s: %w", s.path, err)
	}
	return nil
}

// ReadFile loads a run-state file without fingerprint validation, for
// read-only inspection (the status command).
func ReadFile(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state %s: %w", path, err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state %s: %w", path, err)
	}
	return &state, nil
}
