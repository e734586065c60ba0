package store

import (
	"regexp"
	"strings"
)

// tsPlainWord matches lexemes that can appear bare in a tsquery.
var tsPlainWord = regexp.MustCompile(`^[\pL\pN_]+$`)

// translateTsQuery converts a backend-neutral boolean/phrase query into
// a to_tsquery expression: AND→&, OR→|, NOT→& !. Bare multi-word
// operands get an implicit conjunction; prefix search appends :* per
// lexeme. Operands with grammar-special characters are quoted as
// literals with embedded quotes doubled. The empty string means the
// caller should skip text filtering.
func translateTsQuery(text string, prefix bool) string {
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" || trimmedText == "*" {
		return ""
	}

	operands, operators, ok := splitTsBoolean(trimmedText)
	if !ok {
		return tsQuoteLexeme(trimmedText, false)
	}

	var b strings.Builder
	for i, operand := range operands {
		if i > 0 {
			switch operators[i-1] {
			case "AND":
				b.WriteString(" & ")
			case "OR":
				b.WriteString(" | ")
			case "NOT":
				b.WriteString(" & !")
			}
		}
		b.WriteString(tsOperand(operand, prefix))
	}
	return b.String()
}

// splitTsBoolean mirrors the FTS5 splitter but belongs to this
// translator: the two dialects share no translation state.
func splitTsBoolean(text string) (operands []string, operators []string, ok bool) {
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

// tsOperand renders one operand segment as a parenthesized conjunction
// of lexemes. NOT binds to the whole operand, so grouping keeps the
// negation scoped correctly.
func tsOperand(operand string, prefix bool) string {
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
		if tsPlainWord.MatchString(word) {
			if wantPrefix {
				parts = append(parts, word+":*")
			} else {
				parts = append(parts, word)
			}
		} else {
			parts = append(parts, tsQuoteLexeme(word, wantPrefix))
		}
	}
	if len(parts) == 0 {
		return "'" + noMatchToken + "'"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " & ") + ")"
}

// tsQuoteLexeme quotes an arbitrary string as a tsquery literal,
// doubling embedded single quotes.
func tsQuoteLexeme(s string, prefix bool) string {
	s = strings.ReplaceAll(s, "'", "''")
	if strings.TrimSpace(s) == "" {
		s = noMatchToken
	}
	quoted := "'" + s + "'"
	if prefix {
		quoted += ":*"
	}
	return quoted
}

// postgresPermalinkLike translates a '*' wildcard permalink pattern to
// a LIKE pattern, escaping LIKE metacharacters in the literal parts.
func postgresPermalinkLike(pattern string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	escaped := replacer.Replace(pattern)
	return strings.ReplaceAll(escaped, "*", "%")
}
