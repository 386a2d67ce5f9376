// Package extraction converts a migration job's free-text result into a
// structured record, tolerating the response shapes delegates actually
// produce via a fallback cascade.
package extraction

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/vault-agent/internal/schemas"
	"github.com/jonathan/vault-agent/internal/types"
)

//go:embed strict.schema.json
var strictSchema string

//go:embed rich.schema.json
var richSchema string

// Mode selects how tolerant the parser is.
type Mode int

const (
	// ModeStrict accepts only JSON matching the minimal {summary} schema.
	ModeStrict Mode = iota
	// ModePermissive accepts the rich JSON schema, then falls back to
	// "Section: value" markers, then to the whole text as a summary.
	ModePermissive
)

// Parse runs the fallback cascade over a job's raw output. relPath is the
// task's relative path, used only in error messages.
func Parse(raw string, mode Mode, relPath string) (*types.ExtractionResult, error) {
	schema := richSchema
	if mode == ModeStrict {
		schema = strictSchema
	}

	for _, candidate := range jsonCandidates(raw) {
		result, ok := parseCandidate(candidate, schema)
		if ok {
			return result, nil
		}
	}

	if mode == ModeStrict {
		return nil, fmt.Errorf("no valid JSON extraction result for %s", relPath)
	}

	if result := parseSections(raw); result != nil {
		return result, nil
	}

	if summary := normalizeWhitespace(raw); summary != "" {
		return &types.ExtractionResult{Summary: summary}, nil
	}

	return nil, fmt.Errorf("empty extraction result for %s", relPath)
}

// jsonCandidates collects candidate JSON strings from raw: the whole trimmed
// text, the body of every fenced code block, and the substring from the
// first '{' to the last '}'. Candidates are deduplicated case-insensitively.
func jsonCandidates(raw string) []string {
	var candidates []string

	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	candidates = append(candidates, fencedBlocks(raw)...)
	if span := braceSpan(raw); span != "" {
		candidates = append(candidates, span)
	}

	seen := make(map[string]struct{}, len(candidates))
	deduped := candidates[:0]
	for _, c := range candidates {
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, c)
	}
	return deduped
}

// fencedBlocks returns the trimmed bodies of all ``` fenced blocks.
func fencedBlocks(raw string) []string {
	var blocks []string
	var body []string
	inBlock := false

	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				if block := strings.TrimSpace(strings.Join(body, "\n")); block != "" {
					blocks = append(blocks, block)
				}
				body = nil
			}
			inBlock = !inBlock
			continue
		}
		if inBlock {
			body = append(body, line)
		}
	}
	return blocks
}

// braceSpan returns the substring from the first '{' to the last '}'.
func braceSpan(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(raw[start : end+1])
}

// parseCandidate validates one candidate against the active schema and
// unmarshals it. Returns false when the candidate does not conform or its
// summary collapses to nothing.
func parseCandidate(candidate, schema string) (*types.ExtractionResult, bool) {
	if err := schemas.ValidateJSONString(schema, candidate); err != nil {
		return nil, false
	}

	var result types.ExtractionResult
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, false
	}

	result.Summary = normalizeWhitespace(result.Summary)
	if result.Summary == "" {
		return nil, false
	}
	return &result, true
}

// sectionHeaders maps lowercase "Section:" markers to result fields.
var sectionHeaders = map[string]string{
	"summary":              "summary",
	"status":               "status",
	"created wikilinks":    "createdWikilinks",
	"notes created":        "notesCreated",
	"notes updated":        "notesUpdated",
	"journal days":         "journalDaysTouched",
	"journal days touched": "journalDaysTouched",
}

// parseSections scans line-oriented "Section: value" markers with "- item"
// continuation lines. Returns nil when no non-empty summary was found.
func parseSections(raw string) *types.ExtractionResult {
	result := &types.ExtractionResult{}
	current := ""
	found := false

	appendItem := func(field, item string) {
		item = strings.TrimSuffix(strings.TrimPrefix(item, "[["), "]]")
		if item == "" {
			return
		}
		switch field {
		case "createdWikilinks":
			result.CreatedWikilinks = append(result.CreatedWikilinks, item)
		case "notesCreated":
			result.NotesCreated = append(result.NotesCreated, item)
		case "notesUpdated":
			result.NotesUpdated = append(result.NotesUpdated, item)
		case "journalDaysTouched":
			result.JournalDaysTouched = append(result.JournalDaysTouched, item)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if current != "" && strings.HasPrefix(trimmed, "- ") {
			appendItem(current, strings.TrimSpace(trimmed[2:]))
			continue
		}
		current = ""

		header, value, ok := splitHeader(trimmed)
		if !ok {
			continue
		}
		switch header {
		case "summary":
			if value != "" {
				result.Summary = value
				found = true
			}
		case "status":
			result.Status = strings.ToLower(value)
		default:
			current = header
			if value != "" {
				appendItem(header, value)
			}
		}
	}

	if !found {
		return nil
	}
	return result
}

// splitHeader matches "Section: value" lines against the known headers and
// returns the canonical field name.
func splitHeader(line string) (field, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	name := strings.ToLower(strings.TrimSpace(line[:idx]))
	canonical, known := sectionHeaders[name]
	if !known {
		return "", "", false
	}
	if canonical == "summary" || canonical == "status" {
		return canonical, normalizeWhitespace(line[idx+1:]), true
	}
	return canonical, strings.TrimSpace(line[idx+1:]), true
}

// normalizeWhitespace collapses all runs of whitespace to single spaces and
// trims the result.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
