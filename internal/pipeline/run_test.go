package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/vault-agent/internal/scheduler"
	"github.com/jonathan/vault-agent/internal/tasks"
)

// sourcePathPattern extracts the absolute source path a task prompt names.
var sourcePathPattern = regexp.MustCompile(`Source file: (\S+) \(`)

// fakeRunner is an in-memory JobRunner that simulates the delegate: on
// success it deletes the task's source file, and on synthesis it writes the
// required summary documents.
type fakeRunner struct {
	mu   sync.Mutex
	jobs map[string]fakeJob

	workspace string
	// failRel holds basenames whose migration jobs fail.
	fail map[string]bool
	// synthesisSummaries are returned per synthesis attempt, last one
	// repeating.
	synthesisSummaries []string
	synthesisAttempts  int
	taskSubmissions    []string
	removed            []string
	counter            int
}

type fakeJob struct {
	payload   string
	synthesis bool
}

func newFakeRunner(workspace string) *fakeRunner {
	return &fakeRunner{
		jobs:      make(map[string]fakeJob),
		workspace: workspace,
		fail:      make(map[string]bool),
	}
}

func (f *fakeRunner) Submit(_ context.Context, payload string, opts scheduler.SubmitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	id := fmt.Sprintf("job-%d", f.counter)
	synthesis := opts.SessionName == "vault-migrate-synthesis"
	f.jobs[id] = fakeJob{payload: payload, synthesis: synthesis}
	if !synthesis {
		f.taskSubmissions = append(f.taskSubmissions, opts.SessionName)
	}
	return id, nil
}

func (f *fakeRunner) AwaitCompletion(_ context.Context, jobID string, _ time.Duration) (string, error) {
	f.mu.Lock()
	job, ok := f.jobs[jobID]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown job %s", jobID)
	}

	if job.synthesis {
		f.mu.Lock()
		attempt := f.synthesisAttempts
		f.synthesisAttempts++
		f.mu.Unlock()

		summary := "Synthesized the migrated memory."
		if len(f.synthesisSummaries) > 0 {
			if attempt >= len(f.synthesisSummaries) {
				attempt = len(f.synthesisSummaries) - 1
			}
			summary = f.synthesisSummaries[attempt]
		}
		if !strings.Contains(summary, conflictSignature) {
			for _, name := range []string{"MEMORY.md", "MEMORY-INDEX.md"} {
				if err := os.WriteFile(filepath.Join(f.workspace, name), []byte(summary), 0o644); err != nil {
					return "", err
				}
			}
		}
		return fmt.Sprintf(`{"summary": %q}`, summary), nil
	}

	m := sourcePathPattern.FindStringSubmatch(job.payload)
	if m == nil {
		return "", fmt.Errorf("payload does not name a source file")
	}
	sourcePath := m[1]
	base := filepath.Base(sourcePath)

	if f.fail[base] {
		return "", fmt.Errorf("delegate gave up on %s", base)
	}
	if err := os.Remove(sourcePath); err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"summary": "migrated %s", "status": "ok", "createdWikilinks": ["Note %s"], "sourceDeleted": true}`, base, base), nil
}

func (f *fakeRunner) Remove(_ context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, jobID)
}

// synthesisAwaited reports how many synthesis jobs ran.
func (f *fakeRunner) synthesisAwaited() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synthesisAttempts
}

// testEnv lays out a workspace with a memory store and vault.
type testEnv struct {
	workspace string
	source    string
	vault     string
	statePath string
	runner    *fakeRunner
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	workspace := t.TempDir()
	source := filepath.Join(workspace, "memory")
	vault := filepath.Join(workspace, "vault")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.MkdirAll(vault, 0o755))

	for rel, content := range files {
		path := filepath.Join(source, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return &testEnv{
		workspace: workspace,
		source:    source,
		vault:     vault,
		statePath: filepath.Join(workspace, ".vault-agent", "run-state.json"),
		runner:    newFakeRunner(workspace),
	}
}

func (e *testEnv) options(t *testing.T) Options {
	t.Helper()
	taskList, err := tasks.Enumerate(e.source)
	require.NoError(t, err)
	return Options{
		WorkspacePath: e.workspace,
		VaultPath:     e.vault,
		SourceDir:     e.source,
		Model:         "claude-opus",
		SessionTarget: "isolated",
		StatePath:     e.statePath,
		Tasks:         taskList,
		Runner:        e.runner,
		Parallelism:   2,
		JobTimeout:    time.Minute,
	}
}

func TestRunFullSuccessPerformsCleanup(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"2024-01-05.md":  "daily log",
		"notes/infra.md": "infra notes",
	})

	report, err := Run(context.Background(), env.options(t))
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalTasks)
	assert.Equal(t, 2, report.ProcessedTasks)
	assert.Equal(t, 0, report.SkippedTasks)
	assert.Equal(t, 0, report.FailedTasks)
	assert.True(t, report.CleanupPerformed)
	assert.NotEmpty(t, report.SynthesisSummary)

	// The source store is fully emptied.
	entries, err := os.ReadDir(env.source)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunPartialSuccessSkipsCleanup(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"good.md": "migrates fine",
		"bad.md":  "delegate fails",
	})
	env.runner.fail["bad.md"] = true

	report, err := Run(context.Background(), env.options(t))
	require.NoError(t, err)

	assert.Equal(t, 1, report.ProcessedTasks)
	assert.Equal(t, 1, report.FailedTasks)
	require.Len(t, report.Errors, 1)
	assert.True(t, strings.HasPrefix(report.Errors[0], "bad.md: "))
	assert.False(t, report.CleanupPerformed)
	assert.NotEmpty(t, report.SynthesisSummary)

	// The failed task's source file is untouched; the succeeded one is gone.
	_, err = os.Stat(filepath.Join(env.source, "bad.md"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.source, "good.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunAllFailGuard(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"a.md": "x",
		"b.md": "y",
	})
	env.runner.fail["a.md"] = true
	env.runner.fail["b.md"] = true

	_, err := Run(context.Background(), env.options(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Migration produced no successful task results")
	// No synthesis job was ever submitted.
	assert.Zero(t, env.runner.synthesisAwaited())
}

func TestRunResumeSkipsCompletedTasks(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"a.md": "x",
		"b.md": "y",
	})

	// First run: only a.md succeeds. Synthesis runs over the partial result.
	env.runner.fail["b.md"] = true
	report, err := Run(context.Background(), env.options(t))
	require.NoError(t, err)
	require.Equal(t, 1, report.ProcessedTasks)
	storedSummary := report.Results["a.md"].Result.Summary

	// Second run with the same task set: only b.md is dispatched.
	env.runner.fail["b.md"] = false
	env.runner.taskSubmissions = nil
	report, err = Run(context.Background(), env.options(t))
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedTasks)
	assert.Equal(t, 1, report.ProcessedTasks)
	require.Len(t, env.runner.taskSubmissions, 1)
	assert.Contains(t, env.runner.taskSubmissions[0], "b-md")
	// a.md's stored result is unchanged.
	assert.Equal(t, storedSummary, report.Results["a.md"].Result.Summary)
}

func TestRunSynthesisConflictFallback(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "x"})
	conflict := "Error: " + conflictSignature + " in MEMORY.md"
	env.runner.synthesisSummaries = []string{conflict, conflict}

	_, err := Run(context.Background(), env.options(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Saved fallback summary")
	assert.Equal(t, 2, env.runner.synthesisAwaited())

	fallback := filepath.Join(env.workspace, ".vault-agent", "last-synthesis.md")
	data, readErr := os.ReadFile(fallback)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), conflictSignature)
}

func TestRunSynthesisConflictRecoversOnRetry(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "x"})
	env.runner.synthesisSummaries = []string{
		"Error: " + conflictSignature,
		"Reconciled everything cleanly.",
	}

	report, err := Run(context.Background(), env.options(t))
	require.NoError(t, err)
	assert.Contains(t, report.SynthesisSummary, "Reconciled")
	assert.Equal(t, 2, env.runner.synthesisAwaited())
}

func TestRunMissingRequiredFileFails(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "x"})
	opts := env.options(t)
	missing := filepath.Join(env.workspace, "NEVER-WRITTEN.md")
	opts.RequiredSummaryFiles = []string{missing}

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NEVER-WRITTEN.md")
}

func TestRunSourceStillPresentFailsTask(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "x", "b.md": "y"})

	// a.md's delegate claims success but the source file reappears before
	// the pipeline verifies the deletion.
	opts := env.options(t)
	opts.Runner = &resurrectingRunner{
		inner:   env.runner,
		path:    filepath.Join(env.source, "a.md"),
		content: "x",
	}

	report, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedTasks)
	found := false
	for _, msg := range report.Errors {
		if strings.Contains(msg, "still exists") {
			found = true
		}
	}
	assert.True(t, found)
}

// resurrectingRunner restores one source file after the inner runner deletes
// it, simulating a delegate that reported success without doing the work.
type resurrectingRunner struct {
	inner   *fakeRunner
	path    string
	content string
}

func (r *resurrectingRunner) Submit(ctx context.Context, payload string, opts scheduler.SubmitOptions) (string, error) {
	return r.inner.Submit(ctx, payload, opts)
}

func (r *resurrectingRunner) AwaitCompletion(ctx context.Context, jobID string, timeout time.Duration) (string, error) {
	summary, err := r.inner.AwaitCompletion(ctx, jobID, timeout)
	if err == nil && strings.Contains(summary, filepath.Base(r.path)) {
		if werr := os.WriteFile(r.path, []byte(r.content), 0o644); werr != nil {
			return "", werr
		}
	}
	return summary, err
}

func (r *resurrectingRunner) Remove(ctx context.Context, jobID string) {
	r.inner.Remove(ctx, jobID)
}

// fatalRunner fails every submission with the binary-missing error.
type fatalRunner struct {
	submits int
}

func (f *fatalRunner) Submit(context.Context, string, scheduler.SubmitOptions) (string, error) {
	f.submits++
	return "", &scheduler.Error{Kind: scheduler.KindCLINotFound, Message: "scheduler binary not found"}
}

func (f *fatalRunner) AwaitCompletion(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("never reached")
}

func (f *fatalRunner) Remove(context.Context, string) {}

func TestRunMissingCLIAbortsPool(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"a.md": "x",
		"b.md": "y",
		"c.md": "z",
	})
	opts := env.options(t)
	opts.Parallelism = 1
	runner := &fatalRunner{}
	opts.Runner = runner

	_, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.Equal(t, scheduler.KindCLINotFound, scheduler.KindOf(err))
	// The pool stops after the first fatal submission instead of burning
	// through the remaining tasks.
	assert.Equal(t, 1, runner.submits)

	// All source files survive.
	entries, rerr := os.ReadDir(env.source)
	require.NoError(t, rerr)
	assert.Len(t, entries, 3)
}

func TestRunProgressLines(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "x"})
	opts := env.options(t)
	var lines []string
	var mu sync.Mutex
	opts.OnProgress = func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Equal(t, "1/1 complete (0 failed, 0 active, 0 skipped)", lines[len(lines)-1])
}
