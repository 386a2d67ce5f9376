// Package types defines the shared domain types for the migration pipeline.
package types

import "time"

// TaskKind distinguishes daily journal files from everything else in the
// legacy memory store. Daily files get a journal-oriented prompt.
type TaskKind string

const (
	TaskKindDaily TaskKind = "daily"
	TaskKindOther TaskKind = "other"
)

// Task is one source file to be migrated into the vault. Tasks are immutable
// once enumerated; the ID is the slash-normalized relative path.
type Task struct {
	ID         string   `json:"id"`
	RelPath    string   `json:"rel_path"`
	Basename   string   `json:"basename"`
	SourcePath string   `json:"source_path"`
	Kind       TaskKind `json:"kind"`
}

// ExtractionResult is the structured record parsed from one job's raw
// free-text output. Only Summary is guaranteed; the remaining fields are
// present when the delegate answered with the rich schema.
type ExtractionResult struct {
	Summary            string   `json:"summary"`
	Status             string   `json:"status,omitempty"`
	CreatedWikilinks   []string `json:"createdWikilinks,omitempty"`
	NotesCreated       []string `json:"notesCreated,omitempty"`
	NotesUpdated       []string `json:"notesUpdated,omitempty"`
	JournalDaysTouched []string `json:"journalDaysTouched,omitempty"`
	SourceDeleted      *bool    `json:"sourceDeleted,omitempty"`
}

// StoredTaskResult is an ExtractionResult bound to its task and completion
// time. Immutable once written into run state.
type StoredTaskResult struct {
	TaskID      string           `json:"task_id"`
	RelPath     string           `json:"rel_path"`
	Result      ExtractionResult `json:"result"`
	CompletedAt time.Time        `json:"completed_at"`
}
