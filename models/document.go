package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type DocumentStatus string

const (
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID     string         `json:"owner_id" gorm:"type:varchar(255);not null;index"`
	Title       string         `json:"title" gorm:"not null"`
	SourceName  string         `json:"source_name" gorm:"type:varchar(512)"`
	ContentType string         `json:"content_type" gorm:"type:varchar(100);not null"`
	Status      DocumentStatus `json:"status" gorm:"type:varchar(50);not null;default:'ready'"`

	CharCount      int  `json:"char_count"`
	TokenCount     int  `json:"token_count"`
	SectionCount   int  `json:"section_count"`
	Contextualized bool `json:"contextualized" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (Document) TableName() string {
	return "documents"
}

// SectionMetadata rides along with each chunk: source filename and, for
// PDFs, the 1-based page the chunk starts on.
type SectionMetadata struct {
	SourceName string `json:"source_name,omitempty"`
	Page       int    `json:"page,omitempty"`
}

func (m SectionMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *SectionMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), m)
	}

	return json.Unmarshal(bytes, m)
}

// DocumentSection is one retrievable chunk of a document. OwnerID is
// denormalized from the parent document so every read can scope by owner
// without a join.
type DocumentSection struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;not null;index"`
	OwnerID    string    `json:"owner_id" gorm:"type:varchar(255);not null;index"`
	ChunkIndex int       `json:"chunk_index" gorm:"not null"`

	Content string `json:"content" gorm:"type:text;not null"`
	// Context is the LLM-generated situating sentence prepended to Content
	// for embedding and BM25 when contextual retrieval ran on the document.
	Context    string          `json:"context,omitempty" gorm:"type:text"`
	TokenCount int             `json:"token_count"`
	Metadata   SectionMetadata `json:"metadata" gorm:"type:jsonb"`

	Embedding pgvector.Vector `json:"-" gorm:"type:vector(1536)"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (DocumentSection) TableName() string {
	return "document_sections"
}

// IndexableText is what the BM25 index and the embedder see: the
// contextual prefix (when present) followed by the chunk body.
func (s *DocumentSection) IndexableText() string {
	if s.Context == "" {
		return s.Content
	}
	return s.Context + "\n\n" + s.Content
}

// ContextualProcessingStat is an append-only record of one contextual
// enrichment run over a document.
type ContextualProcessingStat struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID    string    `json:"owner_id" gorm:"type:varchar(255);not null;index"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;not null"`

	Mode            string `json:"mode" gorm:"type:varchar(20);not null"` // "streaming" or "batch"
	ChunksProcessed int    `json:"chunks_processed"`
	ChunksSkipped   int    `json:"chunks_skipped"`

	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`

	EstimatedCostUSD float64 `json:"estimated_cost_usd" gorm:"type:decimal(10,6)"`
	DurationMs       int64   `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (ContextualProcessingStat) TableName() string {
	return "contextual_processing_stats"
}

type DocumentResponse struct {
	ID             uuid.UUID      `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Title          string         `json:"title"`
	SourceName     string         `json:"source_name,omitempty"`
	ContentType    string         `json:"content_type"`
	Status         DocumentStatus `json:"status"`
	CharCount      int            `json:"char_count"`
	TokenCount     int            `json:"token_count"`
	SectionCount   int            `json:"section_count"`
	Contextualized bool           `json:"contextualized"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (d *Document) ToResponse() DocumentResponse {
	return DocumentResponse{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		Title:          d.Title,
		SourceName:     d.SourceName,
		ContentType:    d.ContentType,
		Status:         d.Status,
		CharCount:      d.CharCount,
		TokenCount:     d.TokenCount,
		SectionCount:   d.SectionCount,
		Contextualized: d.Contextualized,
		CreatedAt:      d.CreatedAt,
	}
}

// DocumentSummaryMetadata nests per-document counters in list responses.
type DocumentSummaryMetadata struct {
	ChunkCount int `json:"chunk_count"`
}

// DocumentSummary is the list-endpoint shape.
type DocumentSummary struct {
	ID        uuid.UUID               `json:"id"`
	Title     string                  `json:"title"`
	Type      string                  `json:"type"`
	CreatedAt time.Time               `json:"created_at"`
	Metadata  DocumentSummaryMetadata `json:"metadata"`
}

func (d *Document) ToSummary() DocumentSummary {
	return DocumentSummary{
		ID:        d.ID,
		Title:     d.Title,
		Type:      d.ContentType,
		CreatedAt: d.CreatedAt,
		Metadata:  DocumentSummaryMetadata{ChunkCount: d.SectionCount},
	}
}

type SectionResponse struct {
	ID         uuid.UUID       `json:"id"`
	ChunkIndex int             `json:"chunk_index"`
	Content    string          `json:"content"`
	Context    string          `json:"context,omitempty"`
	TokenCount int             `json:"token_count"`
	Metadata   SectionMetadata `json:"metadata"`
}

type DocumentDetailResponse struct {
	DocumentResponse
	Sections []SectionResponse `json:"sections"`
}

type DocumentListResponse struct {
	Documents []DocumentResponse `json:"documents"`
	Total     int                `json:"total"`
}

// ContextualStats aggregates the stats table for one owner.
type ContextualStats struct {
	OwnerID             string  `json:"owner_id"`
	TotalDocuments      int64   `json:"total_documents"`
	TotalChunks         int64   `json:"total_chunks"`
	TotalTokens         int64   `json:"total_tokens"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	EstimatedCostUSD    float64 `json:"estimated_cost_usd"`
}
