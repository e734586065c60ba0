package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateTsQuery(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		prefix bool
		want   string
	}{
		{
			name:  "single word",
			input: "coffee",
			want:  "coffee",
		},
		{
			name:  "multi word implicit conjunction",
			input: "coffee brewing",
			want:  "(coffee & brewing)",
		},
		{
			name:   "prefix per lexeme",
			input:  "coff brew",
			prefix: true,
			want:   "(coff:* & brew:*)",
		},
		{
			name:  "explicit trailing star",
			input: "coff*",
			want:  "coff:*",
		},
		{
			name:  "AND maps to ampersand",
			input: "coffee AND tea",
			want:  "coffee & tea",
		},
		{
			name:  "OR maps to pipe",
			input: "coffee OR tea",
			want:  "coffee | tea",
		},
		{
			name:  "NOT maps to negated conjunction",
			input: "coffee NOT decaf",
			want:  "coffee & !decaf",
		},
		{
			name:  "multi word operand grouped for negation",
			input: "coffee NOT french press",
			want:  "coffee & !(french & press)",
		},
		{
			name:  "special characters quoted",
			input: "specs/search",
			want:  "'specs/search'",
		},
		{
			name:  "embedded single quotes doubled",
			input: "o'brien",
			want:  "'o''brien'",
		},
		{
			name:  "malformed boolean quoted whole",
			input: "AND coffee",
			want:  "'AND coffee'",
		},
		{
			name:  "wildcard only skips translation",
			input: "*",
			want:  "",
		},
		{
			name:  "blank skips translation",
			input: "",
			want:  "",
		},
		{
			name:  "lone star operand becomes sentinel",
			input: "coffee AND *",
			want:  "coffee & '" + noMatchToken + "'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateTsQuery(tt.input, tt.prefix)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Single-quote balance is the safety property for tsquery literals.
func TestTranslateTsQueryAlwaysBalanced(t *testing.T) {
	inputs := []string{
		"'", "''", "a'b", "(", ")", "a & b", "!x", "c:/path", "NOT", "AND OR",
	}
	for _, input := range inputs {
		got := translateTsQuery(input, false)
		if got == "" {
			continue
		}
		assert.Equal(t, 0, strings.Count(got, "'")%2,
			"unbalanced quotes for input %q: %s", input, got)
	}
}

func TestPostgresPermalinkLike(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"specs/*", `specs/%`},
		{"notes/coffee", "notes/coffee"},
		{"a_b*", `a\_b%`},
		{"100%*", `100\%%`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, postgresPermalinkLike(tt.pattern), "pattern %q", tt.pattern)
	}
}
