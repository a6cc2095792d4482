package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/aigroupchat/backend/models"
)

// DocumentStore is the persistence layer for documents and their
// sections. Every read is scoped by owner.
type DocumentStore interface {
	// CreateDocumentWithSections persists a document and all its sections
	// in a single transaction. On error nothing is persisted.
	CreateDocumentWithSections(ctx context.Context, doc *models.Document, sections []models.DocumentSection) error

	GetDocument(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID, ownerID string) error

	GetSections(ctx context.Context, documentID uuid.UUID, ownerID string) ([]models.DocumentSection, error)

	// GetSectionsByIDs bulk-loads sections by id, scoped to the owner,
	// with their document titles resolved. Used to materialize
	// keyword-only hits on the query path. Embeddings are not loaded.
	GetSectionsByIDs(ctx context.Context, ids []uuid.UUID, ownerID string) ([]models.RetrievedChunk, error)

	// GetOwnerSections returns every section of the owner, used to build
	// the BM25 snapshot. Embeddings are not loaded.
	GetOwnerSections(ctx context.Context, ownerID string) ([]models.DocumentSection, error)

	// UpdateSectionContexts writes contextual prefixes and refreshed
	// embeddings back after contextual enrichment, and marks the document
	// contextualized, in one transaction.
	UpdateSectionContexts(ctx context.Context, documentID uuid.UUID, ownerID string, sections []models.DocumentSection) error

	// VectorSearch runs a cosine similarity query over the owner's
	// sections. allowedDocs narrows to an agent allow-list; nil means
	// unrestricted. Results come back ordered by similarity descending
	// with Score holding the similarity in [0,1].
	VectorSearch(ctx context.Context, ownerID string, allowedDocs []uuid.UUID, embedding []float32, limit int, minSimilarity float64) ([]models.RetrievedChunk, error)

	RecordContextualStat(ctx context.Context, stat *models.ContextualProcessingStat) error
	GetContextualStats(ctx context.Context, ownerID string) (*models.ContextualStats, error)

	// CountContextualRequestsToday counts enrichment runs since midnight
	// UTC across all owners, for the daily cap.
	CountContextualRequestsToday(ctx context.Context) (int64, error)
}

// IngestRequest carries one uploaded file through the pipeline.
type IngestRequest struct {
	OwnerID     string
	Title       string
	SourceName  string
	ContentType string
	Data        []byte
}

// IngestService runs the ingestion pipeline: parse, chunk, optionally
// contextualize, embed, persist, rebuild the owner's BM25 snapshot.
type IngestService interface {
	IngestDocument(ctx context.Context, req IngestRequest) (*models.Document, error)

	// RemoveDocument deletes the document and rebuilds the owner's index.
	RemoveDocument(ctx context.Context, id uuid.UUID, ownerID string) error

	// ContextualizeDocument enriches an already-ingested document that
	// was not contextualized at upload time, refreshes its embeddings,
	// and republishes the owner's index.
	ContextualizeDocument(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error)

	// RebuildIndex rebuilds the owner's BM25 snapshot from the store.
	RebuildIndex(ctx context.Context, ownerID string) error
}
