package store

import (
	"regexp"
	"strings"
)

// noMatchToken is emitted when defensive escaping would otherwise
// produce an empty match expression. It is a syntactically valid FTS5 /
// tsquery term that matches no real content.
const noMatchToken = "__nomatch__"

// ftsPlainOperand matches operands safe to split into bare quoted words:
// letters, digits, underscores, spaces, and trailing-wildcard stars.
// Anything else (quotes, parens, punctuation, path separators) forces
// whole-operand phrase quoting so no malformed MATCH expression can be
// produced.
var ftsPlainOperand = regexp.MustCompile(`^[\pL\pN_*\s]+$`)

// translateFTSQuery converts a backend-neutral boolean/phrase query into
// an FTS5 MATCH expression. Boolean operators are preserved as FTS5
// keywords with each operand sanitized independently; a bare operand
// gets an implicit conjunction across its quoted words. The empty
// string means the caller should skip text filtering (wildcard-only
// query).
func translateFTSQuery(text string, prefix bool) string {
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" || trimmedText == "*" {
		return ""
	}

	operands, operators, ok := splitFTSBoolean(trimmedText)
	if !ok {
		// Unbalanced operator sequence: treat the whole input as a
		// literal phrase instead of guessing at intent.
		return ftsQuotePhrase(trimmedText)
	}

	var b strings.Builder
	for i, operand := range operands {
		if i > 0 {
			b.WriteString(" ")
			b.WriteString(operators[i-1])
			b.WriteString(" ")
		}
		b.WriteString(ftsOperand(operand, prefix))
	}
	return b.String()
}

// splitFTSBoolean tokenizes on whitespace and extracts AND/OR/NOT as
// operators. ok is false when the operator placement could not form a
// valid binary expression (leading/trailing/doubled operators).
func splitFTSBoolean(text string) (operands []string, operators []string, ok bool) {
	tokens := strings.Fields(text)
	var current []string
	for _, tok := range tokens {
		switch tok {
		case "AND", "OR", "NOT":
			if len(current) == 0 {
				return nil, nil, false
			}
			operands = append(operands, strings.Join(current, " "))
			operators = append(operators, tok)
			current = current[:0]
		default:
			current = append(current, tok)
		}
	}
	if len(current) == 0 {
		return nil, nil, false
	}
	operands = append(operands, strings.Join(current, " "))
	return operands, operators, true
}

// ftsOperand renders one operand segment. Plain word sequences become
// individually quoted words (implicit AND, optional per-word prefix
// star); anything containing grammar-special characters is quoted as a
// single literal phrase.
func ftsOperand(operand string, prefix bool) string {
	if !ftsPlainOperand.MatchString(operand) {
		return ftsQuotePhrase(operand)
	}

	var parts []string
	for _, word := range strings.Fields(operand) {
		wantPrefix := prefix
		if strings.HasSuffix(word, "*") {
			wantPrefix = true
		}
		word = strings.Trim(word, "*")
		if word == "" {
			continue
		}
		quoted := `"` + word + `"`
		if wantPrefix {
			quoted += "*"
		}
		parts = append(parts, quoted)
	}
	if len(parts) == 0 {
		return `"` + noMatchToken + `"`
	}
	return strings.Join(parts, " ")
}

// ftsQuotePhrase quotes an arbitrary string as an FTS5 phrase literal,
// doubling embedded quotes.
func ftsQuotePhrase(s string) string {
	s = strings.ReplaceAll(s, `"`, `""`)
	if strings.TrimSpace(s) == "" {
		s = noMatchToken
	}
	return `"` + s + `"`
}

// sqlitePermalinkGlob returns the GLOB pattern for a wildcard permalink
// match. SQLite GLOB already uses '*', so the user pattern passes
// through unchanged.
func sqlitePermalinkGlob(pattern string) string {
	return pattern
}
