package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker(t *testing.T) {
	t.Run("valid bounds", func(t *testing.T) {
		c, err := NewChunker(800, 80)
		require.NoError(t, err)
		assert.NotNil(t, c)
	})

	t.Run("rejects zero size", func(t *testing.T) {
		_, err := NewChunker(0, 0)
		assert.Error(t, err)
	})

	t.Run("rejects overlap >= size", func(t *testing.T) {
		_, err := NewChunker(100, 100)
		assert.Error(t, err)
	})

	t.Run("rejects negative overlap", func(t *testing.T) {
		_, err := NewChunker(100, -1)
		assert.Error(t, err)
	})
}

func TestChunkEmpty(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	chunks, err := c.Chunk("   \n\t  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkShortText(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	chunks, err := c.Chunk("A single short sentence.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "A single short sentence.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Greater(t, chunks[0].TokenCount, 0)
}

func TestChunkRespectsSizeCeiling(t *testing.T) {
	c, err := NewChunker(50, 10)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about something mildly interesting. ", i)
	}

	chunks, err := c.Chunk(b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TokenCount, 50+100, "chunk %d over ceiling", chunk.Index)
	}

	// Indices are contiguous from zero.
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestChunkOverlap(t *testing.T) {
	c, err := NewChunker(40, 15)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Topic %d gets its own sentence right here. ", i)
	}

	chunks, err := c.Chunk(b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks share their boundary sentences.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		curr := chunks[i].Text

		// The current chunk starts with text that also ends the previous
		// chunk: find the first sentence of curr inside prev.
		firstSentence := curr
		if idx := strings.Index(curr, ". "); idx >= 0 {
			firstSentence = curr[:idx+1]
		}
		assert.Contains(t, prev, firstSentence,
			"chunk %d does not overlap with its predecessor", i)
	}
}

func TestChunkOversizedSentence(t *testing.T) {
	c, err := NewChunker(30, 5)
	require.NoError(t, err)

	// One long "sentence" with no terminal punctuation, far beyond the
	// ceiling, forcing a hard split at token boundaries.
	giant := strings.Repeat("wordsoup ", 400)

	chunks, err := c.Chunk(giant)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TokenCount, 30+100)
		assert.NotEmpty(t, chunk.Text)
	}
}

func TestChunkOffsetsMapIntoSource(t *testing.T) {
	c, err := NewChunker(30, 5)
	require.NoError(t, err)

	text := "First paragraph here. It has a couple of sentences.\n" +
		"Second paragraph follows. It also says things. More filler text arrives now. " +
		"Even more words to push past one chunk. And a final thought to close."

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		require.Less(t, chunk.Offset, len(text))
		// The chunk text starts at its recorded offset in the source.
		firstWord := strings.Fields(chunk.Text)[0]
		assert.True(t, strings.HasPrefix(text[chunk.Offset:], firstWord),
			"offset %d does not line up with chunk %q", chunk.Offset, firstWord)
	}

	// Offsets are monotonically non-decreasing.
	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].Offset, chunks[i-1].Offset)
	}
}

func TestCountTokens(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, c.CountTokens(""))
	assert.Greater(t, c.CountTokens("hello world"), 0)
	assert.Greater(t, c.CountTokens("a longer sentence with more words"),
		c.CountTokens("short"))
}

func TestSplitSentences(t *testing.T) {
	t.Run("period boundaries", func(t *testing.T) {
		got := splitSentences("One. Two. Three.")
		require.Len(t, got, 3)
		assert.Equal(t, "One.", got[0].text)
		assert.Equal(t, "Two.", got[1].text)
		assert.Equal(t, "Three.", got[2].text)
	})

	t.Run("newline boundaries", func(t *testing.T) {
		got := splitSentences("line one\nline two\nline three")
		require.Len(t, got, 3)
		assert.Equal(t, "line one", got[0].text)
		assert.Equal(t, "line three", got[2].text)
	})

	t.Run("question and exclamation", func(t *testing.T) {
		got := splitSentences("Really? Yes! Fine.")
		require.Len(t, got, 3)
		assert.Equal(t, "Really?", got[0].text)
		assert.Equal(t, "Yes!", got[1].text)
	})

	t.Run("offsets index the source", func(t *testing.T) {
		text := "Alpha. Beta. Gamma."
		got := splitSentences(text)
		require.Len(t, got, 3)
		for _, s := range got {
			assert.True(t, strings.HasPrefix(text[s.offset:], s.text))
		}
	})

	t.Run("no terminal punctuation", func(t *testing.T) {
		got := splitSentences("just a fragment")
		require.Len(t, got, 1)
		assert.Equal(t, "just a fragment", got[0].text)
	})
}
