package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	c := New()
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t  "))
}

func TestSplitSmallTextIsOneChunk(t *testing.T) {
	c := New()
	chunks := c.Split("a short note about coffee")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short note about coffee", chunks[0])
}

func TestSplitHeadersStartNewSections(t *testing.T) {
	c := New()
	text := "# Brewing\n\npour over basics\n\n## Grind\n\nmedium fine\n\n### Water\n\n94 degrees"
	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0], "# Brewing"))
	assert.True(t, strings.HasPrefix(chunks[1], "## Grind"))
	assert.True(t, strings.HasPrefix(chunks[2], "### Water"))
}

func TestSplitRespectsBudget(t *testing.T) {
	c := NewWithOptions(Options{MaxChunkChars: 100, OverlapChars: 20})

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("a paragraph of modest size here\n\n")
	}
	chunks := c.Split(b.String())
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100, "chunk %d exceeds budget", i)
	}
}

func TestSplitOversizedParagraphUsesOverlapWindow(t *testing.T) {
	c := NewWithOptions(Options{MaxChunkChars: 100, OverlapChars: 20})

	para := strings.Repeat("x", 250)
	chunks := c.Split(para)
	// Step is 80: windows at 0 and 80, then the tail from 160.
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 90)

	// Adjacent windows share the overlap, so no content is dropped.
	assert.Equal(t, chunks[0][80:], chunks[1][:20])
	assert.Equal(t, chunks[1][80:], chunks[2][:20])
}

func TestSplitNeverSplitsMultiByteRunes(t *testing.T) {
	c := New()
	chunks := c.Split("a" + strings.Repeat("中", 1000))
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk), "chunk %d is not valid UTF-8", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), DefaultMaxChunkChars)
	}
	assert.Equal(t, "a"+strings.Repeat("中", DefaultMaxChunkChars-1), chunks[0])
}

func TestSplitDefaultBudgets(t *testing.T) {
	c := New()
	para := strings.Repeat("y", 2500)
	chunks := c.Split(para)
	// Step is 780: windows at 0, 780, 1560, then the tail from 2340.
	require.Len(t, chunks, 4)
	for i := 0; i < 3; i++ {
		assert.Len(t, chunks[i], DefaultMaxChunkChars)
	}
	assert.Len(t, chunks[3], 160)
	assert.Equal(t, chunks[0][780:], chunks[1][:120])
}

func TestSplitHeaderMidDocumentStartsItsChunk(t *testing.T) {
	c := New()
	text := strings.Repeat("a", 1200) + "\n\n## Midpoint\n\n" + strings.Repeat("b", 1280)
	chunks := c.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), DefaultMaxChunkChars, "chunk %d exceeds budget", i)
	}

	var headerChunk string
	for _, chunk := range chunks {
		if strings.Contains(chunk, "## Midpoint") {
			headerChunk = chunk
			break
		}
	}
	require.NotEmpty(t, headerChunk)
	assert.True(t, strings.HasPrefix(headerChunk, "## Midpoint"))
}

func TestSplitIsDeterministic(t *testing.T) {
	c := New()
	text := "# Title\n\n" + strings.Repeat("some paragraph text here\n\n", 100)
	first := c.Split(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Split(text))
	}
}

func TestSplitOverlapCappedBelowWindow(t *testing.T) {
	c := NewWithOptions(Options{MaxChunkChars: 50, OverlapChars: 200})
	chunks := c.Split(strings.Repeat("z", 300))
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 50)
	}
}

func TestSplitPacksParagraphsGreedily(t *testing.T) {
	c := NewWithOptions(Options{MaxChunkChars: 60, OverlapChars: 10})
	text := "first para\n\nsecond para\n\nthird para is rather longer than the others"
	chunks := c.Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first para\n\nsecond para", chunks[0])
	assert.Equal(t, "third para is rather longer than the others", chunks[1])
}
