package chunk

import (
	"regexp"
	"strings"
)

// Default character budgets. Sized so a chunk stays well inside the
// context window of small embedding models.
const (
	DefaultMaxChunkChars = 900
	DefaultOverlapChars  = 120
)

// Options configures the chunker budgets.
type Options struct {
	MaxChunkChars int // Maximum characters per chunk (default: DefaultMaxChunkChars)
	OverlapChars  int // Overlap between windows when splitting mid-paragraph (default: DefaultOverlapChars)
}

// Chunker splits markdown-ish text into bounded, overlapping chunks.
// It is stateless and deterministic: identical input yields identical
// output, with no I/O.
type Chunker struct {
	options Options
}

// Matches headers: # Title, ## Title, etc.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// New creates a chunker with default budgets.
func New() *Chunker {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a chunker with custom budgets.
func NewWithOptions(opts Options) *Chunker {
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = DefaultMaxChunkChars
	}
	if opts.OverlapChars <= 0 {
		opts.OverlapChars = DefaultOverlapChars
	}
	if opts.OverlapChars >= opts.MaxChunkChars {
		// The window must advance; cap overlap below the chunk size.
		opts.OverlapChars = opts.MaxChunkChars / 4
	}
	return &Chunker{options: opts}
}

// Split produces the ordered chunk sequence for one text. Headers open
// new sections, oversized sections pack paragraphs greedily, and
// oversized paragraphs fall back to a fixed sliding window.
// Empty or whitespace-only input yields zero chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []string
	for _, sec := range splitSections(text) {
		if len(sec) <= c.options.MaxChunkChars {
			chunks = append(chunks, sec)
			continue
		}
		chunks = append(chunks, c.packParagraphs(sec)...)
	}
	return chunks
}

// splitSections cuts text at markdown header lines, keeping each header
// with the content that follows it. Text before the first header forms
// its own section.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")

	var sections []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}

	for _, line := range lines {
		if headerPattern.MatchString(line) {
			flush()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return sections
}

// packParagraphs greedily fills chunks with blank-line-delimited
// paragraphs, starting a new chunk when the budget would be exceeded.
func (c *Chunker) packParagraphs(section string) []string {
	var paragraphs []string
	for _, part := range strings.Split(section, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > c.options.MaxChunkChars {
			flush()
			chunks = append(chunks, c.slidingWindow(para)...)
			continue
		}

		// +2 accounts for the paragraph separator.
		if current.Len() > 0 && current.Len()+2+len(para) > c.options.MaxChunkChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// slidingWindow splits a single oversized paragraph into fixed windows
// of MaxChunkChars, each overlapping the previous by OverlapChars, so
// no content is dropped at window boundaries. Windows are measured in
// runes, never splitting a multi-byte character.
func (c *Chunker) slidingWindow(para string) []string {
	window := c.options.MaxChunkChars
	step := window - c.options.OverlapChars

	runes := []rune(para)
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
