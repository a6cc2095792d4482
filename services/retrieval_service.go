package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/aigroupchat/backend/models"
)

// Embedder turns text into unit-normalized embedding vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimensions() int
}

// ContextualResult is the outcome of enriching one document's sections.
type ContextualResult struct {
	// Contexts holds one situating sentence per section, aligned by
	// index. Empty string means the section was skipped.
	Contexts []string
	Mode     string
	Skipped  int
	Usage    models.TokenUsage
}

// Contextualizer generates situating context for each chunk of a
// document before embedding, per the contextual-retrieval technique.
type Contextualizer interface {
	// Enabled reports whether enrichment should run at all.
	Enabled() bool

	ContextualizeDocument(ctx context.Context, doc *models.Document, fullText string, sections []models.DocumentSection) (*ContextualResult, error)
}

// Reranker scores query/candidate pairs with a cross-encoder and
// returns the candidates reordered by relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.RetrievedChunk) ([]models.RetrievedChunk, error)
}

// Retriever is the hybrid search pipeline: dense + keyword in parallel,
// fused with RRF, optionally reranked. It degrades instead of failing:
// the error return is reserved for invalid input.
type Retriever interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}

// ContextService is the front door for the voice agent's per-turn
// context fetch. It never returns an error for backend failures.
type ContextService interface {
	GetContext(ctx context.Context, req models.ContextRequest) (*models.ContextResponse, error)
}

// MetadataCache caches the owner's document id → title mapping with a
// TTL, so the context formatter avoids a DB read per turn.
type MetadataCache interface {
	GetTitles(ctx context.Context, ownerID string) (map[uuid.UUID]string, bool)
	SetTitles(ctx context.Context, ownerID string, titles map[uuid.UUID]string)
	Invalidate(ctx context.Context, ownerID string)
}
