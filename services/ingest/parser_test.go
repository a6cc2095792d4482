package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigroupchat/backend/services"
)

func TestParsePlainText(t *testing.T) {
	doc, err := Parse("text/plain", []byte("Hello retrieval world.\nSecond line."))
	require.NoError(t, err)
	assert.Equal(t, "Hello retrieval world.\nSecond line.", doc.Text)
	assert.Empty(t, doc.Pages)
}

func TestParseMarkdown(t *testing.T) {
	doc, err := Parse("text/markdown", []byte("# Title\n\nSome **bold** prose."))
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "# Title")
	assert.Contains(t, doc.Text, "Some **bold** prose.")
}

func TestParseContentTypeWithParams(t *testing.T) {
	doc, err := Parse("text/plain; charset=utf-8", []byte("charset params are fine"))
	require.NoError(t, err)
	assert.Equal(t, "charset params are fine", doc.Text)
}

func TestParseUnsupportedType(t *testing.T) {
	_, err := Parse("image/png", []byte{0x89, 0x50, 0x4e, 0x47})
	assert.ErrorIs(t, err, services.ErrUnsupportedType)
}

func TestParseEmptyDocument(t *testing.T) {
	t.Run("empty bytes", func(t *testing.T) {
		_, err := Parse("text/plain", []byte{})
		assert.ErrorIs(t, err, services.ErrEmptyDocument)
	})

	t.Run("whitespace only", func(t *testing.T) {
		_, err := Parse("text/plain", []byte("   \n\t\n  "))
		assert.ErrorIs(t, err, services.ErrEmptyDocument)
	})
}

func TestParseInvalidUTF8(t *testing.T) {
	_, err := Parse("text/plain", []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestParseBrokenPDF(t *testing.T) {
	_, err := Parse("application/pdf", []byte("not actually a pdf"))
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestNormalizeText(t *testing.T) {
	t.Run("collapses space runs", func(t *testing.T) {
		assert.Equal(t, "a b c", normalizeText("a   b\t\tc"))
	})

	t.Run("keeps newlines", func(t *testing.T) {
		assert.Equal(t, "a\nb", normalizeText("a\nb"))
	})

	t.Run("normalizes crlf", func(t *testing.T) {
		assert.Equal(t, "a\nb\nc", normalizeText("a\r\nb\rc"))
	})

	t.Run("strips control characters", func(t *testing.T) {
		assert.Equal(t, "ab", normalizeText("a\x00\x08b"))
	})

	t.Run("trims edges", func(t *testing.T) {
		assert.Equal(t, "core", normalizeText("  core  \n"))
	})
}

func TestPageFor(t *testing.T) {
	doc := &ParsedDocument{
		Pages: []PageOffset{
			{Number: 1, Offset: 0},
			{Number: 2, Offset: 100},
			{Number: 4, Offset: 250},
		},
	}

	assert.Equal(t, 1, doc.PageFor(0))
	assert.Equal(t, 1, doc.PageFor(99))
	assert.Equal(t, 2, doc.PageFor(100))
	assert.Equal(t, 2, doc.PageFor(249))
	assert.Equal(t, 4, doc.PageFor(250))
	assert.Equal(t, 4, doc.PageFor(9999))
}

func TestPageForNoPages(t *testing.T) {
	doc := &ParsedDocument{Text: "plain text"}
	assert.Equal(t, 0, doc.PageFor(5))
}
