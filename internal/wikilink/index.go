// Package wikilink maintains the shared index of vault note titles that
// migration prompts can reference. The index is advisory: workers read and
// grow it concurrently, and a prompt rendered before a sibling's links were
// merged simply references fewer titles.
package wikilink

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultCap is the maximum number of titles rendered into a prompt.
const DefaultCap = 40

// Index is a concurrency-safe set of known note titles.
type Index struct {
	mu     sync.Mutex
	titles map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{titles: make(map[string]struct{})}
}

// ScanVault builds an index from the markdown note titles under vaultPath.
// A missing vault directory yields an empty index, not an error.
func ScanVault(vaultPath string) (*Index, error) {
	idx := NewIndex()

	err := filepath.WalkDir(vaultPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != vaultPath {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			idx.Add(strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())))
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return NewIndex(), nil
		}
		return nil, err
	}
	return idx, nil
}

// Add records note titles, ignoring empties.
func (ix *Index) Add(titles ...string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, t := range titles {
		t = strings.TrimSpace(t)
		if t != "" {
			ix.titles[t] = struct{}{}
		}
	}
}

// MergeNotePaths records the titles of note paths (basename sans extension).
func (ix *Index) MergeNotePaths(paths ...string) {
	for _, p := range paths {
		base := filepath.Base(p)
		ix.Add(strings.TrimSuffix(base, filepath.Ext(base)))
	}
}

// Len returns the number of known titles.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.titles)
}

// ForTask returns up to limit titles biased toward the task at relPath: when
// the full set exceeds the limit, titles containing a token derived from the
// task's path are listed first, then the rest, truncated. Each partition is
// sorted for determinism.
func (ix *Index) ForTask(relPath string, limit int) []string {
	if limit <= 0 {
		limit = DefaultCap
	}

	ix.mu.Lock()
	all := make([]string, 0, len(ix.titles))
	for t := range ix.titles {
		all = append(all, t)
	}
	ix.mu.Unlock()

	sort.Strings(all)
	if len(all) <= limit {
		return all
	}

	tokens := pathTokens(relPath)
	var matching, rest []string
	for _, title := range all {
		if containsAny(strings.ToLower(title), tokens) {
			matching = append(matching, title)
		} else {
			rest = append(rest, title)
		}
	}

	ranked := append(matching, rest...)
	return ranked[:limit]
}

// pathTokens derives lowercase alphabetic tokens of at least 3 characters
// from a task's relative path.
func pathTokens(relPath string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() >= 3 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}

	for _, r := range strings.ToLower(relPath) {
		if r >= 'a' && r <= 'z' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
