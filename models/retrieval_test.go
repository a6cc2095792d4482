package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	u.Add(TokenUsage{
		InputTokens:         10,
		OutputTokens:        5,
		CacheCreationTokens: 200,
		CacheReadTokens:     300,
	})

	assert.Equal(t, int64(110), u.InputTokens)
	assert.Equal(t, int64(55), u.OutputTokens)
	assert.Equal(t, int64(200), u.CacheCreationTokens)
	assert.Equal(t, int64(300), u.CacheReadTokens)
}

func TestTokenUsageEstimatedCost(t *testing.T) {
	t.Run("zero usage costs nothing", func(t *testing.T) {
		u := TokenUsage{}
		assert.Zero(t, u.EstimatedCostUSD())
	})

	t.Run("input and output rates", func(t *testing.T) {
		u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
		assert.InDelta(t, 3.0+15.0, u.EstimatedCostUSD(), 1e-9)
	})

	t.Run("cache writes at 1.25x input", func(t *testing.T) {
		u := TokenUsage{CacheCreationTokens: 1_000_000}
		assert.InDelta(t, 3.75, u.EstimatedCostUSD(), 1e-9)
	})

	t.Run("cache reads at 0.1x input", func(t *testing.T) {
		u := TokenUsage{CacheReadTokens: 1_000_000}
		assert.InDelta(t, 0.3, u.EstimatedCostUSD(), 1e-9)
	})
}

func TestSectionIndexableText(t *testing.T) {
	t.Run("without context", func(t *testing.T) {
		s := DocumentSection{Content: "plain chunk"}
		assert.Equal(t, "plain chunk", s.IndexableText())
	})

	t.Run("with context prefix", func(t *testing.T) {
		s := DocumentSection{
			Context: "This chunk covers the methods section.",
			Content: "We measured twelve samples.",
		}
		assert.Equal(t, "This chunk covers the methods section.\n\nWe measured twelve samples.", s.IndexableText())
	})
}

func TestRetrievedChunkDisplayText(t *testing.T) {
	c := RetrievedChunk{Content: "chunk body"}
	assert.Equal(t, "chunk body", c.DisplayText())

	c.Context = "Situating line."
	assert.Equal(t, "Situating line.\nchunk body", c.DisplayText())
}

func TestDocumentToSummary(t *testing.T) {
	d := Document{
		Title:        "Syllabus",
		ContentType:  "application/pdf",
		SectionCount: 12,
	}
	s := d.ToSummary()
	assert.Equal(t, "Syllabus", s.Title)
	assert.Equal(t, "application/pdf", s.Type)
	assert.Equal(t, 12, s.Metadata.ChunkCount)
}
