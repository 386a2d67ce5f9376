// Package pipeline provides the high-level orchestration for migrating a
// legacy memory store into the knowledge vault: it fans pending tasks out to
// delegate jobs under bounded concurrency, persists resumable progress,
// gates the final synthesis job, and only clears the source store once the
// whole batch succeeded.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/vault-agent/internal/db"
	"github.com/jonathan/vault-agent/internal/extraction"
	"github.com/jonathan/vault-agent/internal/runstate"
	"github.com/jonathan/vault-agent/internal/scheduler"
	"github.com/jonathan/vault-agent/internal/types"
	"github.com/jonathan/vault-agent/internal/wikilink"
)

// conflictSignature is the delegate failure phrase meaning the synthesis
// edit could not be applied. One retry, then the raw summary is parked in
// the fallback file.
const conflictSignature = "Could not find the exact text to replace"

// synthesisRetries is the total number of synthesis submissions attempted.
const synthesisRetries = 2

// JobRunner is the pipeline's view of the job client. A fake implementation
// drives the state-machine tests.
type JobRunner interface {
	Submit(ctx context.Context, payload string, opts scheduler.SubmitOptions) (string, error)
	AwaitCompletion(ctx context.Context, jobID string, timeout time.Duration) (string, error)
	Remove(ctx context.Context, jobID string)
}

// Options holds configuration for one pipeline invocation.
type Options struct {
	WorkspacePath string
	VaultPath     string
	SourceDir     string
	Model         string
	SessionTarget string
	StatePath     string

	Tasks  []types.Task
	Runner JobRunner

	Parallelism      int
	JobTimeout       time.Duration
	StrictExtraction bool

	// RequiredSummaryFiles must exist after a clean synthesis. Defaults to
	// MEMORY.md and MEMORY-INDEX.md under the workspace.
	RequiredSummaryFiles []string
	// FallbackSummaryPath receives the last raw synthesis summary when the
	// conflict retry budget is exhausted. Defaults to
	// <workspace>/.vault-agent/last-synthesis.md.
	FallbackSummaryPath string

	DatabaseURL string

	// OnProgress receives a settlement summary line after every task settles.
	OnProgress func(line string)
	// OnDebug receives fine-grained dispatch/poll lines.
	OnDebug func(line string)
}

// Report aggregates the outcome of one pipeline invocation.
type Report struct {
	TotalTasks       int
	ProcessedTasks   int
	SkippedTasks     int
	FailedTasks      int
	Errors           []string
	SynthesisSummary string
	CleanupPerformed bool
	Results          map[string]types.StoredTaskResult
}

// tally tracks settlement counters shared across workers.
type tally struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	active    int
	errors    []string
}

func (t *tally) start() {
	t.mu.Lock()
	t.active++
	t.mu.Unlock()
}

func (t *tally) settle(relPath string, taskErr error) (succeeded, failed, active int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if taskErr != nil {
		t.failed++
		t.errors = append(t.errors, fmt.Sprintf("%s: %s", relPath, taskErr.Error()))
	} else {
		t.succeeded++
	}
	return t.succeeded, t.failed, t.active
}

func (o *Options) progressf(format string, args ...any) {
	if o.OnProgress != nil {
		o.OnProgress(fmt.Sprintf(format, args...))
	}
}

func (o *Options) debugf(format string, args ...any) {
	if o.OnDebug != nil {
		o.OnDebug(fmt.Sprintf(format, args...))
	}
}

func (o *Options) applyDefaults() {
	if len(o.RequiredSummaryFiles) == 0 {
		o.RequiredSummaryFiles = []string{
			filepath.Join(o.WorkspacePath, "MEMORY.md"),
			filepath.Join(o.WorkspacePath, "MEMORY-INDEX.md"),
		}
	}
	if o.FallbackSummaryPath == "" {
		o.FallbackSummaryPath = filepath.Join(o.WorkspacePath, ".vault-agent", "last-synthesis.md")
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Minute
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
}

// Run executes the migration pipeline and returns its report. Per-task
// failures are isolated and aggregated; pipeline-level failures abort the
// run and leave the state file safely resumable.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("pipeline: job runner is required")
	}
	opts.applyDefaults()

	// LOADING: fingerprint, resumable state, wikilink index.
	ident := runstate.Identity{
		WorkspacePath: opts.WorkspacePath,
		VaultPath:     opts.VaultPath,
		Model:         opts.Model,
	}
	taskIDs := make([]string, len(opts.Tasks))
	for i, t := range opts.Tasks {
		taskIDs[i] = t.ID
	}
	store, err := runstate.Load(opts.StatePath, ident, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("loading run state failed: %w", err)
	}

	index, err := wikilink.ScanVault(opts.VaultPath)
	if err != nil {
		return nil, fmt.Errorf("scanning vault failed: %w", err)
	}
	for _, r := range store.Completed() {
		mergeResultLinks(index, r.Result)
	}

	// Optional audit trail. Never load-bearing: failures warn and continue.
	var database *db.DB
	var runID uuid.UUID
	if opts.DatabaseURL != "" {
		database, err = db.Connect(ctx, opts.DatabaseURL)
		if err != nil {
			fmt.Printf("Warning: Failed to connect to database: %v\n", err)
			fmt.Printf("Continuing without database persistence...\n")
			database = nil
		} else {
			defer database.Close()
			runID, err = database.CreateMigrationRun(ctx, store.Fingerprint(), opts.WorkspacePath, opts.VaultPath, opts.Model, len(opts.Tasks))
			if err != nil {
				fmt.Printf("Warning: Failed to create database run: %v\n", err)
			}
		}
	}

	// DISPATCHING: bounded-concurrency pool over the pending set.
	var pending []types.Task
	for _, t := range opts.Tasks {
		if !store.IsCompleted(t.ID) {
			pending = append(pending, t)
		}
	}
	skipped := len(opts.Tasks) - len(pending)
	counters := &tally{}

	if len(pending) > 0 {
		workers := opts.Parallelism
		if workers > len(pending) {
			workers = len(pending)
		}
		if workers < 1 {
			workers = 1
		}

		var cursor atomic.Int64
		g, gCtx := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for {
					if gCtx.Err() != nil {
						return gCtx.Err()
					}
					idx := int(cursor.Add(1)) - 1
					if idx >= len(pending) {
						return nil
					}
					task := pending[idx]

					counters.start()
					taskErr := runTask(gCtx, &opts, task, index, store, database, runID)
					if taskErr != nil && scheduler.IsFatal(taskErr) {
						// The scheduler substrate is gone; no task can
						// succeed. Abort the pool.
						counters.settle(task.RelPath, taskErr)
						return taskErr
					}
					succeeded, failed, active := counters.settle(task.RelPath, taskErr)
					opts.progressf("%d/%d complete (%d failed, %d active, %d skipped)",
						succeeded, len(opts.Tasks), failed, active, skipped)
				}
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("dispatch pool aborted: %w", err)
		}
	}

	completed := store.Completed()
	report := &Report{
		TotalTasks:     len(opts.Tasks),
		ProcessedTasks: counters.succeeded,
		SkippedTasks:   skipped,
		FailedTasks:    counters.failed,
		Errors:         counters.errors,
		Results:        completed,
	}

	// No synthesis over nothing: zero successes fails the whole run.
	if len(completed) == 0 {
		completeRun(ctx, database, runID, "failed")
		return report, fmt.Errorf("Migration produced no successful task results")
	}

	// SYNTHESIZING
	if !store.SynthesisComplete() {
		summary, err := runSynthesis(ctx, &opts, completed)
		if err != nil {
			completeRun(ctx, database, runID, "failed")
			return report, err
		}
		report.SynthesisSummary = summary
		if err := store.MarkSynthesisComplete(); err != nil {
			return report, err
		}
		if database != nil && runID != uuid.Nil {
			_ = database.SaveSynthesis(ctx, runID, summary)
		}
	} else {
		opts.debugf("synthesis already complete; skipping")
	}

	// CLEANING: only when the whole batch succeeded.
	if counters.failed == 0 && !store.CleanupComplete() {
		if err := emptyDir(opts.SourceDir); err != nil {
			completeRun(ctx, database, runID, "failed")
			return report, fmt.Errorf("source cleanup failed: %w", err)
		}
		if err := store.MarkCleanupComplete(); err != nil {
			return report, err
		}
	}
	report.CleanupPerformed = store.CleanupComplete()

	status := "completed"
	if counters.failed > 0 {
		status = "completed_with_failures"
	}
	completeRun(ctx, database, runID, status)

	return report, nil
}

// runTask executes one task end to end: render prompt, submit, await, parse,
// verify deletion, record.
func runTask(ctx context.Context, opts *Options, task types.Task, index *wikilink.Index, store *runstate.Store, database *db.DB, runID uuid.UUID) error {
	opts.debugf("dispatching %s", task.RelPath)

	prompt, err := buildTaskPrompt(task, opts.WorkspacePath, opts.VaultPath, index)
	if err != nil {
		return fmt.Errorf("building prompt failed: %w", err)
	}

	jobID, err := opts.Runner.Submit(ctx, prompt, scheduler.SubmitOptions{
		Model:          opts.Model,
		SessionTarget:  opts.SessionTarget,
		SessionName:    "vault-migrate-" + sessionSlug(task.ID),
		TimeoutSeconds: int(opts.JobTimeout.Seconds()),
		DeleteAfterRun: true,
		Announce:       false,
	})
	if err != nil {
		return err
	}

	raw, err := opts.Runner.AwaitCompletion(ctx, jobID, opts.JobTimeout)
	if err != nil {
		opts.Runner.Remove(ctx, jobID)
		return err
	}

	mode := extraction.ModePermissive
	if opts.StrictExtraction {
		mode = extraction.ModeStrict
	}
	result, err := extraction.Parse(raw, mode, task.RelPath)
	if err != nil {
		return err
	}

	// The delegate is required to delete the source file; the filesystem is
	// the proof, whatever the extraction claims.
	if _, statErr := os.Stat(task.SourcePath); statErr == nil {
		return fmt.Errorf("source file still exists after migration")
	}

	stored := types.StoredTaskResult{
		TaskID:      task.ID,
		RelPath:     task.RelPath,
		Result:      *result,
		CompletedAt: time.Now().UTC(),
	}
	if err := store.RecordResult(stored); err != nil {
		return fmt.Errorf("persisting result failed: %w", err)
	}
	mergeResultLinks(index, *result)

	if database != nil && runID != uuid.Nil {
		_ = database.SaveTaskResult(ctx, runID, stored)
	}

	opts.debugf("completed %s (job %s)", task.RelPath, jobID)
	return nil
}

// runSynthesis submits the final synthesis job, retrying once on the
// conflict signature, and verifies the required summary documents exist.
func runSynthesis(ctx context.Context, opts *Options, completed map[string]types.StoredTaskResult) (string, error) {
	payload, err := buildSynthesisPrompt(opts.WorkspacePath, opts.VaultPath, completed)
	if err != nil {
		return "", fmt.Errorf("building synthesis prompt failed: %w", err)
	}

	var summary string
	for attempt := 1; attempt <= synthesisRetries; attempt++ {
		opts.debugf("submitting synthesis (attempt %d/%d)", attempt, synthesisRetries)

		jobID, err := opts.Runner.Submit(ctx, payload, scheduler.SubmitOptions{
			Model:          opts.Model,
			SessionTarget:  opts.SessionTarget,
			SessionName:    "vault-migrate-synthesis",
			TimeoutSeconds: int(opts.JobTimeout.Seconds()),
			DeleteAfterRun: true,
			Announce:       false,
		})
		if err != nil {
			return "", fmt.Errorf("synthesis submission failed: %w", err)
		}

		summary, err = opts.Runner.AwaitCompletion(ctx, jobID, opts.JobTimeout)
		if err != nil {
			opts.Runner.Remove(ctx, jobID)
			return "", fmt.Errorf("synthesis failed: %w", err)
		}

		if !strings.Contains(summary, conflictSignature) {
			break
		}
		if attempt == synthesisRetries {
			if werr := writeFallbackSummary(opts.FallbackSummaryPath, summary); werr != nil {
				return "", fmt.Errorf("synthesis kept failing on a content conflict and the fallback write failed too: %w", werr)
			}
			return "", fmt.Errorf("synthesis failed on a content conflict after %d attempts. Saved fallback summary to %s", synthesisRetries, opts.FallbackSummaryPath)
		}
	}

	for _, required := range opts.RequiredSummaryFiles {
		if _, err := os.Stat(required); err != nil {
			return "", fmt.Errorf("synthesis did not produce required file %s", required)
		}
	}
	return summary, nil
}

func writeFallbackSummary(path, summary string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(summary), 0o644)
}

// emptyDir recursively removes every entry of dir, then re-lists it and
// fails if anything remains.
func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list source directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}

	remaining, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to re-list source directory: %w", err)
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%d entries remain after cleanup", len(remaining))
	}
	return nil
}

// mergeResultLinks folds a completed result's note references into the
// shared wikilink index.
func mergeResultLinks(index *wikilink.Index, result types.ExtractionResult) {
	index.Add(result.CreatedWikilinks...)
	index.MergeNotePaths(result.NotesCreated...)
	index.MergeNotePaths(result.NotesUpdated...)
}

// sessionSlug makes a task id safe for use in a scheduler session name.
func sessionSlug(id string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return strings.Trim(sb.String(), "-")
}

func completeRun(ctx context.Context, database *db.DB, runID uuid.UUID, status string) {
	if database != nil && runID != uuid.Nil {
		_ = database.CompleteMigrationRun(ctx, runID, status)
	}
}
