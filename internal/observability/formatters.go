// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/vault-agent/internal/runstate"
	"github.com/jonathan/vault-agent/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// MigrationReport is the subset of the pipeline report the printer renders.
type MigrationReport struct {
	TotalTasks       int
	ProcessedTasks   int
	SkippedTasks     int
	FailedTasks      int
	Errors           []string
	SynthesisSummary string
	CleanupPerformed bool
}

// PrintReport outputs a human-readable summary of a migration run.
func (p *Printer) PrintReport(report *MigrationReport) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total:     %d\n", report.TotalTasks))
	sb.WriteString(fmt.Sprintf("Processed: %d\n", report.ProcessedTasks))
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", report.SkippedTasks))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", report.FailedTasks))
	sb.WriteString(fmt.Sprintf("Cleanup:   %t\n", report.CleanupPerformed))

	if len(report.Errors) > 0 {
		sb.WriteString("\nFailures:\n")
		for i, msg := range report.Errors {
			if i >= maxItemsToShow {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.Errors)-maxItemsToShow))
				break
			}
			sb.WriteString(fmt.Sprintf("  - %s\n", msg))
		}
	}

	if report.SynthesisSummary != "" {
		sb.WriteString("\nSynthesis:\n")
		sb.WriteString(report.SynthesisSummary)
		sb.WriteString("\n")
	}

	p.printBox("Migration Report", strings.TrimRight(sb.String(), "\n"))
}

// PrintRunState outputs the persisted run state for the status command.
func (p *Printer) PrintRunState(state *runstate.RunState) {
	if state == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Fingerprint: %s\n", state.Fingerprint))
	sb.WriteString(fmt.Sprintf("Model:       %s\n", state.Model))
	sb.WriteString(fmt.Sprintf("Completed:   %d tasks\n", len(state.Completed)))
	sb.WriteString(fmt.Sprintf("Synthesis:   %t\n", state.SynthesisComplete))
	sb.WriteString(fmt.Sprintf("Cleanup:     %t\n", state.CleanupComplete))
	sb.WriteString(fmt.Sprintf("Updated:     %s", state.UpdatedAt.Format("2006-01-02 15:04:05")))

	p.printBox("Run State", sb.String())
}

// PrintTaskResults outputs completed task results sorted by path.
func (p *Printer) PrintTaskResults(results map[string]types.StoredTaskResult) {
	if len(results) == 0 {
		return
	}

	paths := make([]string, 0, len(results))
	byPath := make(map[string]types.StoredTaskResult, len(results))
	for _, r := range results {
		paths = append(paths, r.RelPath)
		byPath[r.RelPath] = r
	}
	sort.Strings(paths)

	var sb strings.Builder
	for i, path := range paths {
		if i >= maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more", len(paths)-maxItemsToShow))
			break
		}
		sb.WriteString(fmt.Sprintf("%s\n  %s\n", path, byPath[path].Result.Summary))
	}

	p.printBox("Completed Tasks", strings.TrimRight(sb.String(), "\n"))
}
