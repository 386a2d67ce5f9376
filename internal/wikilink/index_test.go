package wikilink

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanVault(t *testing.T) {
	vault := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(vault, "topics"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(vault, ".obsidian"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vault, "Home.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vault, "topics", "Go Projects.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vault, ".obsidian", "Hidden.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vault, "notes.txt"), []byte("x"), 0o644))

	idx, err := ScanVault(vault)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go Projects", "Home"}, idx.ForTask("anything", 10))
}

func TestScanVaultMissingDirIsEmpty(t *testing.T) {
	idx, err := ScanVault(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
}

func TestForTaskReturnsAllWhenUnderCap(t *testing.T) {
	idx := NewIndex()
	idx.Add("Beta", "Alpha")
	assert.Equal(t, []string{"Alpha", "Beta"}, idx.ForTask("notes/projects.md", 40))
}

func TestForTaskRelevanceBiasedTruncation(t *testing.T) {
	idx := NewIndex()
	for i := 0; i < 50; i++ {
		idx.Add(fmt.Sprintf("Filler %02d", i))
	}
	idx.Add("Project Alpha", "Project Beta")

	titles := idx.ForTask("work/project-log.md", 10)
	require.Len(t, titles, 10)
	// Titles containing a token from the task path come first.
	assert.Equal(t, "Project Alpha", titles[0])
	assert.Equal(t, "Project Beta", titles[1])
}

func TestPathTokens(t *testing.T) {
	tokens := pathTokens("daily/2024-01-05-notes.md")
	assert.Contains(t, tokens, "daily")
	assert.Contains(t, tokens, "notes")
	// Short and non-alphabetic fragments are dropped.
	assert.NotContains(t, tokens, "md")
	assert.NotContains(t, tokens, "2024")
}

func TestMergeNotePaths(t *testing.T) {
	idx := NewIndex()
	idx.MergeNotePaths("topics/Infra Budget.md", "Journal/2024-01-05.md")
	titles := idx.ForTask("x", 10)
	assert.Contains(t, titles, "Infra Budget")
	assert.Contains(t, titles, "2024-01-05")
}
