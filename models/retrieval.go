package models

import (
	"github.com/google/uuid"
)

// RetrievedChunk is one candidate on the query path. Score semantics
// depend on the stage: cosine similarity out of the vector search, BM25
// score out of the keyword search, fused RRF score after fusion, and the
// cross-encoder relevance score after reranking.
type RetrievedChunk struct {
	SectionID     uuid.UUID       `json:"section_id"`
	DocumentID    uuid.UUID       `json:"document_id"`
	DocumentTitle string          `json:"document_title"`
	ChunkIndex    int             `json:"chunk_index"`
	Content       string          `json:"content"`
	Context       string          `json:"context,omitempty"`
	Metadata      SectionMetadata `json:"metadata"`
	Score         float64         `json:"score"`
}

// DisplayText is the text a caller should read: the situating context
// prepended to the chunk body when enrichment ran, the body alone
// otherwise.
func (c *RetrievedChunk) DisplayText() string {
	if c.Context == "" {
		return c.Content
	}
	return c.Context + "\n" + c.Content
}

// Query carries no binding tag: an empty query is a valid request that
// answers with zero results, not a 400.
type SearchRequest struct {
	OwnerID             string   `json:"owner_id" binding:"required"`
	AgentID             string   `json:"agent_id"`
	Query               string   `json:"query"`
	TopK                int      `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

type SearchResponse struct {
	Results  []RetrievedChunk `json:"results"`
	Degraded bool             `json:"degraded"`
}

type ContextRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
	AgentID string `json:"agent_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
}

// ContextResponse is the per-turn contract with the voice agent. The
// retrieval path never errors to the caller: failures surface as
// has_context=false with degraded=true.
type ContextResponse struct {
	Context    string   `json:"context"`
	HasContext bool     `json:"has_context"`
	Sources    []string `json:"sources"`
	Degraded   bool     `json:"degraded,omitempty"`
	LatencyMs  int64    `json:"latency_ms"`
}

// TokenUsage accumulates Anthropic token counters over a contextual run.
type TokenUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// EstimatedCostUSD prices the accumulated usage at claude-3-7-sonnet
// rates: $3/M input, $15/M output, cache writes at 1.25x input, cache
// reads at 0.1x input.
func (u *TokenUsage) EstimatedCostUSD() float64 {
	const (
		inputPerM  = 3.0
		outputPerM = 15.0
	)
	cost := float64(u.InputTokens) / 1e6 * inputPerM
	cost += float64(u.OutputTokens) / 1e6 * outputPerM
	cost += float64(u.CacheCreationTokens) / 1e6 * inputPerM * 1.25
	cost += float64(u.CacheReadTokens) / 1e6 * inputPerM * 0.1
	return cost
}
