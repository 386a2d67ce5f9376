// Package tasks enumerates the legacy memory store into migration tasks.
package tasks

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jonathan/vault-agent/internal/types"
)

// dailyPrefix matches basenames that start with a YYYY-MM-DD day stamp.
var dailyPrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// Enumerate walks sourceDir and returns one Task per regular file, sorted by
// relative path. Hidden files and directories are skipped.
func Enumerate(sourceDir string) ([]types.Task, error) {
	absSource, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}

	var result []types.Task
	err = filepath.WalkDir(absSource, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != absSource {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(absSource, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		result = append(result, types.Task{
			ID:         rel,
			RelPath:    rel,
			Basename:   d.Name(),
			SourcePath: path,
			Kind:       kindOf(d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate source directory %s: %w", sourceDir, err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].RelPath < result[j].RelPath })
	return result, nil
}

// IDs returns the ordered task-id set.
func IDs(list []types.Task) []string {
	ids := make([]string, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	return ids
}

func kindOf(basename string) types.TaskKind {
	if dailyPrefix.MatchString(basename) {
		return types.TaskKindDaily
	}
	return types.TaskKindOther
}

// Day returns the YYYY-MM-DD day stamp of a daily task's basename, or empty.
func Day(basename string) string {
	m := dailyPrefix.FindStringSubmatch(basename)
	if m == nil {
		return ""
	}
	return m[1]
}
