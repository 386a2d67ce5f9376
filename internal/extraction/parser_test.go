package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrict(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantError   bool
		wantSummary string
	}{
		{
			name:        "valid minimal JSON with messy whitespace",
			raw:         `{"summary":"  a   b "}`,
			wantSummary: "a b",
		},
		{
			name:      "extra key rejected",
			raw:       `{"summary":"ok","status":"ok"}`,
			wantError: true,
		},
		{
			name:      "plain text rejected",
			raw:       "plain text",
			wantError: true,
		},
		{
			name:        "fenced code block",
			raw:         "Here is the result:\n```json\n{\"summary\": \"migrated notes\"}\n```\nDone.",
			wantSummary: "migrated notes",
		},
		{
			name:        "JSON embedded in prose via brace span",
			raw:         `The delegate answered {"summary": "folded into vault"} at the end.`,
			wantSummary: "folded into vault",
		},
		{
			name:      "whitespace-only summary rejected",
			raw:       `{"summary":"   "}`,
			wantError: true,
		},
		{
			name:      "empty input",
			raw:       "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Parse(tt.raw, ModeStrict, "notes/a.md")
			if tt.wantError {
				assert.Error(t, err)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				require.NotNil(t, result)
				assert.Equal(t, tt.wantSummary, result.Summary)
			}
		})
	}
}

func TestParsePermissive(t *testing.T) {
	t.Run("rich JSON with metadata", func(t *testing.T) {
		raw := `{"summary":"migrated","status":"ok","createdWikilinks":["Projects"],"notesCreated":["topics/Projects.md"],"sourceDeleted":true}`
		result, err := Parse(raw, ModePermissive, "notes/a.md")
		require.NoError(t, err)
		assert.Equal(t, "migrated", result.Summary)
		assert.Equal(t, "ok", result.Status)
		assert.Equal(t, []string{"Projects"}, result.CreatedWikilinks)
		require.NotNil(t, result.SourceDeleted)
		assert.True(t, *result.SourceDeleted)
	})

	t.Run("unknown JSON key falls through to verbatim summary", func(t *testing.T) {
		raw := `{"summary":"ok","unexpected":1}`
		result, err := Parse(raw, ModePermissive, "notes/a.md")
		require.NoError(t, err)
		// Candidate fails the rich schema, so the whole text becomes the summary.
		assert.Contains(t, result.Summary, "unexpected")
	})

	t.Run("section markers with bullet continuation", func(t *testing.T) {
		raw := "Summary: moved the project log into the vault\nCreated Wikilinks:\n- [[Project Alpha]]\n- [[Weekly Review]]\nSome trailing prose."
		result, err := Parse(raw, ModePermissive, "notes/a.md")
		require.NoError(t, err)
		assert.Equal(t, "moved the project log into the vault", result.Summary)
		assert.Equal(t, []string{"Project Alpha", "Weekly Review"}, result.CreatedWikilinks)
	})

	t.Run("bullet section ends at non-matching line", func(t *testing.T) {
		raw := "Summary: done\nNotes Created:\n- topics/One.md\nUnrelated line\n- not collected"
		result, err := Parse(raw, ModePermissive, "notes/a.md")
		require.NoError(t, err)
		assert.Equal(t, []string{"topics/One.md"}, result.NotesCreated)
	})

	t.Run("plain text becomes verbatim summary", func(t *testing.T) {
		result, err := Parse("plain  text\nwith lines", ModePermissive, "notes/a.md")
		require.NoError(t, err)
		assert.Equal(t, "plain text with lines", result.Summary)
	})

	t.Run("empty input names the file", func(t *testing.T) {
		_, err := Parse("   \n\t", ModePermissive, "notes/broken.md")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notes/broken.md")
	})
}

func TestJSONCandidates(t *testing.T) {
	raw := "```json\n{\"summary\": \"x\"}\n```"
	candidates := jsonCandidates(raw)
	// Whole text, fenced body, and brace span; the latter two deduplicate.
	require.Len(t, candidates, 2)
	assert.Equal(t, raw, candidates[0])
	assert.Equal(t, `{"summary": "x"}`, candidates[1])
}

func TestJSONCandidatesDedupeCaseInsensitive(t *testing.T) {
	raw := `{"SUMMARY": "x"}`
	candidates := jsonCandidates(raw)
	require.Len(t, candidates, 1)
}
