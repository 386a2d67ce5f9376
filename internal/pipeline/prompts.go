package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/vault-agent/internal/prompts"
	"github.com/jonathan/vault-agent/internal/tasks"
	"github.com/jonathan/vault-agent/internal/types"
	"github.com/jonathan/vault-agent/internal/wikilink"
)

const promptFile = "migration.json"

// synthesisCharBudget bounds the per-result block of the synthesis payload.
const synthesisCharBudget = 48000

// buildTaskPrompt renders the migration instruction payload for one task.
func buildTaskPrompt(task types.Task, workspacePath, vaultPath string, index *wikilink.Index) (string, error) {
	key := "migrate_other"
	data := map[string]string{
		"WorkspacePath": workspacePath,
		"VaultPath":     vaultPath,
		"SourcePath":    task.SourcePath,
		"Basename":      task.Basename,
		"WikilinkIndex": renderWikilinkIndex(index.ForTask(task.RelPath, wikilink.DefaultCap)),
	}
	if task.Kind == types.TaskKindDaily {
		key = "migrate_daily"
		data["Day"] = tasks.Day(task.Basename)
	}

	tmpl, err := prompts.Get(promptFile, key)
	if err != nil {
		return "", err
	}
	return prompts.Format(tmpl, data), nil
}

// buildSynthesisPrompt renders the final-synthesis payload over all
// completed results, one line per result sorted by relative path, truncated
// once the character budget is exceeded.
func buildSynthesisPrompt(workspacePath, vaultPath string, completed map[string]types.StoredTaskResult) (string, error) {
	results := make([]types.StoredTaskResult, 0, len(completed))
	for _, r := range completed {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RelPath < results[j].RelPath })

	var block strings.Builder
	included := 0
	for _, r := range results {
		line := fmt.Sprintf("%s: %s\n", r.RelPath, singleLine(r.Result.Summary))
		if block.Len()+len(line) > synthesisCharBudget {
			block.WriteString(fmt.Sprintf("...truncated after %d files\n", included))
			break
		}
		block.WriteString(line)
		included++
	}

	tmpl, err := prompts.Get(promptFile, "final_synthesis")
	if err != nil {
		return "", err
	}
	return prompts.Format(tmpl, map[string]string{
		"WorkspacePath": workspacePath,
		"VaultPath":     vaultPath,
		"ResultsBlock":  strings.TrimRight(block.String(), "\n"),
	}), nil
}

func renderWikilinkIndex(titles []string) string {
	if len(titles) == 0 {
		return "(no existing notes yet)"
	}
	var sb strings.Builder
	for _, t := range titles {
		sb.WriteString("- [[")
		sb.WriteString(t)
		sb.WriteString("]]\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// singleLine collapses a summary to one whitespace-normalized line.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
