package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateFTSQuery(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		prefix bool
		want   string
	}{
		{
			name:  "single word",
			input: "coffee",
			want:  `"coffee"`,
		},
		{
			name:  "multi word implicit conjunction",
			input: "coffee brewing",
			want:  `"coffee" "brewing"`,
		},
		{
			name:   "prefix per word",
			input:  "coff brew",
			prefix: true,
			want:   `"coff"* "brew"*`,
		},
		{
			name:  "explicit trailing star",
			input: "coff*",
			want:  `"coff"*`,
		},
		{
			name:  "boolean AND preserved",
			input: "coffee AND tea",
			want:  `"coffee" AND "tea"`,
		},
		{
			name:  "boolean OR preserved",
			input: "coffee OR tea",
			want:  `"coffee" OR "tea"`,
		},
		{
			name:  "boolean NOT preserved",
			input: "coffee NOT decaf",
			want:  `"coffee" NOT "decaf"`,
		},
		{
			name:  "multi word operands around operator",
			input: "pour over AND french press",
			want:  `"pour" "over" AND "french" "press"`,
		},
		{
			name:  "special characters quoted as phrase",
			input: `specs/search (v2)`,
			want:  `"specs/search (v2)"`,
		},
		{
			name:  "embedded quotes doubled",
			input: `say "hello"`,
			want:  `"say ""hello"""`,
		},
		{
			name:  "leading operator treated as phrase",
			input: "AND coffee",
			want:  `"AND coffee"`,
		},
		{
			name:  "trailing operator treated as phrase",
			input: "coffee AND",
			want:  `"coffee AND"`,
		},
		{
			name:  "wildcard only skips translation",
			input: "*",
			want:  "",
		},
		{
			name:  "blank skips translation",
			input: "   ",
			want:  "",
		},
		{
			name:  "lone star operand becomes sentinel",
			input: "coffee AND *",
			want:  `"coffee" AND "` + noMatchToken + `"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateFTSQuery(tt.input, tt.prefix)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Every non-empty translation must be balanced on double quotes, the
// property that keeps malformed MATCH expressions from ever reaching
// the engine.
func TestTranslateFTSQueryAlwaysBalanced(t *testing.T) {
	inputs := []string{
		`"`, `""`, `"""`, `a"b`, `(`, `)`, `a AND (b OR`, `-x`, `c:/path\to\file`,
		`NOT`, `AND OR NOT`, `* * *`, `a NEAR b`, "tab\tseparated",
	}
	for _, input := range inputs {
		got := translateFTSQuery(input, false)
		if got == "" {
			continue
		}
		assert.Equal(t, 0, strings.Count(got, `"`)%2,
			"unbalanced quotes for input %q: %s", input, got)
	}
}

func TestSQLitePermalinkGlob(t *testing.T) {
	assert.Equal(t, "specs/*", sqlitePermalinkGlob("specs/*"))
	assert.Equal(t, "notes/coffee", sqlitePermalinkGlob("notes/coffee"))
}
