package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

type documentStoreImpl struct {
	db *gorm.DB
}

func NewDocumentStore(db *gorm.DB) services.DocumentStore {
	return &documentStoreImpl{
		db: db,
	}
}

func (s *documentStoreImpl) CreateDocumentWithSections(ctx context.Context, doc *models.Document, sections []models.DocumentSection) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}

		// Insert in batches to keep statements bounded for large documents.
		if err := tx.CreateInBatches(sections, 100).Error; err != nil {
			return fmt.Errorf("failed to create sections: %w", err)
		}

		return nil
	})
}

func (s *documentStoreImpl) GetDocument(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error) {
	var doc models.Document

	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, services.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

func (s *documentStoreImpl) ListDocuments(ctx context.Context, ownerID string) ([]models.Document, error) {
	var docs []models.Document

	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return docs, nil
}

func (s *documentStoreImpl) DeleteDocument(ctx context.Context, id uuid.UUID, ownerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&models.Document{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete document: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("document %s: %w", id, services.ErrNotFound)
		}

		if err := tx.Where("document_id = ?", id).Delete(&models.DocumentSection{}).Error; err != nil {
			return fmt.Errorf("failed to delete sections: %w", err)
		}

		if err := tx.Where("document_id = ?", id).Delete(&models.AgentDocument{}).Error; err != nil {
			return fmt.Errorf("failed to delete agent links: %w", err)
		}

		return nil
	})
}

func (s *documentStoreImpl) GetSections(ctx context.Context, documentID uuid.UUID, ownerID string) ([]models.DocumentSection, error) {
	var sections []models.DocumentSection

	err := s.db.WithContext(ctx).
		Where("document_id = ? AND owner_id = ?", documentID, ownerID).
		Order("chunk_index ASC").
		Find(&sections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get sections: %w", err)
	}

	return sections, nil
}

func (s *documentStoreImpl) GetOwnerSections(ctx context.Context, ownerID string) ([]models.DocumentSection, error) {
	var sections []models.DocumentSection

	err := s.db.WithContext(ctx).
		Select("id", "document_id", "owner_id", "chunk_index", "content", "context", "token_count", "metadata").
		Where("owner_id = ?", ownerID).
		Order("document_id ASC, chunk_index ASC").
		Find(&sections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get owner sections: %w", err)
	}

	return sections, nil
}

func (s *documentStoreImpl) UpdateSectionContexts(ctx context.Context, documentID uuid.UUID, ownerID string, sections []models.DocumentSection) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range sections {
			err := tx.Model(&models.DocumentSection{}).
				Where("id = ? AND document_id = ? AND owner_id = ?", sections[i].ID, documentID, ownerID).
				Updates(map[string]interface{}{
					"context":   sections[i].Context,
					"embedding": sections[i].Embedding,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to update section %s: %w", sections[i].ID, err)
			}
		}

		err := tx.Model(&models.Document{}).
			Where("id = ? AND owner_id = ?", documentID, ownerID).
			Updates(map[string]interface{}{
				"contextualized": true,
				"updated_at":     time.Now(),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to mark document contextualized: %w", err)
		}

		return nil
	})
}

func (s *documentStoreImpl) GetSectionsByIDs(ctx context.Context, ids []uuid.UUID, ownerID string) ([]models.RetrievedChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []vectorSearchRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT ds.id, ds.document_id, d.title, ds.chunk_index, ds.content, ds.context, ds.metadata,
		       0 AS similarity
		FROM document_sections ds
		JOIN documents d ON d.id = ds.document_id
		WHERE ds.owner_id = ? AND ds.id IN ?`, ownerID, ids).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sections by id: %w", err)
	}

	chunks := make([]models.RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, models.RetrievedChunk{
			SectionID:     row.ID,
			DocumentID:    row.DocumentID,
			DocumentTitle: row.Title,
			ChunkIndex:    row.ChunkIndex,
			Content:       row.Content,
			Context:       row.Context,
			Metadata:      row.Metadata,
		})
	}

	return chunks, nil
}

type vectorSearchRow struct {
	ID         uuid.UUID              `gorm:"column:id"`
	DocumentID uuid.UUID              `gorm:"column:document_id"`
	Title      string                 `gorm:"column:title"`
	ChunkIndex int                    `gorm:"column:chunk_index"`
	Content    string                 `gorm:"column:content"`
	Context    string                 `gorm:"column:context"`
	Metadata   models.SectionMetadata `gorm:"column:metadata"`
	Similarity float64                `gorm:"column:similarity"`
}

func (s *documentStoreImpl) VectorSearch(ctx context.Context, ownerID string, allowedDocs []uuid.UUID, embedding []float32, limit int, minSimilarity float64) ([]models.RetrievedChunk, error) {
	vec := pgvector.NewVector(embedding)

	query := `
		SELECT ds.id, ds.document_id, d.title, ds.chunk_index, ds.content, ds.context, ds.metadata,
		       1 - (ds.embedding <=> ?) AS similarity
		FROM document_sections ds
		JOIN documents d ON d.id = ds.document_id
		WHERE ds.owner_id = ?`
	args := []interface{}{vec, ownerID}

	if allowedDocs != nil {
		docIDs := make([]string, len(allowedDocs))
		for i, id := range allowedDocs {
			docIDs[i] = id.String()
		}
		query += ` AND ds.document_id = ANY(?::uuid[])`
		args = append(args, pq.Array(docIDs))
	}

	query += `
		AND 1 - (ds.embedding <=> ?) >= ?
		ORDER BY ds.embedding <=> ?, ds.id
		LIMIT ?`
	args = append(args, vec, minSimilarity, vec, limit)

	var rows []vectorSearchRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	chunks := make([]models.RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		chunks = append(chunks, models.RetrievedChunk{
			SectionID:     row.ID,
			DocumentID:    row.DocumentID,
			DocumentTitle: row.Title,
			ChunkIndex:    row.ChunkIndex,
			Content:       row.Content,
			Context:       row.Context,
			Metadata:      row.Metadata,
			Score:         row.Similarity,
		})
	}

	return chunks, nil
}

func (s *documentStoreImpl) RecordContextualStat(ctx context.Context, stat *models.ContextualProcessingStat) error {
	if err := s.db.WithContext(ctx).Create(stat).Error; err != nil {
		return fmt.Errorf("failed to record contextual stat: %w", err)
	}
	return nil
}

func (s *documentStoreImpl) GetContextualStats(ctx context.Context, ownerID string) (*models.ContextualStats, error) {
	stats := &models.ContextualStats{OwnerID: ownerID}

	row := s.db.WithContext(ctx).Model(&models.ContextualProcessingStat{}).
		Select(`COUNT(DISTINCT document_id) AS total_documents,
			COALESCE(SUM(chunks_processed), 0) AS total_chunks,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cache_creation_tokens), 0) AS cache_creation_tokens,
			COALESCE(SUM(cache_read_tokens), 0) AS cache_read_tokens,
			COALESCE(SUM(estimated_cost_usd), 0) AS estimated_cost_usd`).
		Where("owner_id = ?", ownerID).
		Scan(stats)
	if row.Error != nil {
		return nil, fmt.Errorf("failed to aggregate contextual stats: %w", row.Error)
	}
	stats.TotalTokens = stats.InputTokens + stats.OutputTokens +
		stats.CacheCreationTokens + stats.CacheReadTokens

	return stats, nil
}

func (s *documentStoreImpl) CountContextualRequestsToday(ctx context.Context) (int64, error) {
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.ContextualProcessingStat{}).
		Where("created_at >= ?", midnight).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count contextual requests: %w", err)
	}

	return count, nil
}
