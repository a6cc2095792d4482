package impl

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/metrics"
	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
	"github.com/aigroupchat/backend/services/index"
	"github.com/aigroupchat/backend/services/ingest"
)

type ingestServiceImpl struct {
	store          services.DocumentStore
	embedder       services.Embedder
	contextualizer services.Contextualizer
	registry       *index.Registry
	cache          services.MetadataCache
	chunker        *ingest.Chunker

	maxDailyContextual int
	deadline           time.Duration
}

func NewIngestService(
	cfg *config.Config,
	store services.DocumentStore,
	embedder services.Embedder,
	contextualizer services.Contextualizer,
	registry *index.Registry,
	cache services.MetadataCache,
) (services.IngestService, error) {
	chunker, err := ingest.NewChunker(cfg.Ingest.ChunkSizeTokens, cfg.Ingest.ChunkOverlapTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	deadline := time.Duration(cfg.Ingest.DeadlineSecs) * time.Second
	if deadline <= 0 {
		deadline = 120 * time.Second
	}

	return &ingestServiceImpl{
		store:              store,
		embedder:           embedder,
		contextualizer:     contextualizer,
		registry:           registry,
		cache:              cache,
		chunker:            chunker,
		maxDailyContextual: cfg.Contextual.MaxDailyRequests,
		deadline:           deadline,
	}, nil
}

// IngestDocument runs the full pipeline: parse, chunk, optionally
// contextualize, embed, persist transactionally, then publish a fresh
// BM25 snapshot. A failure at any stage leaves nothing persisted.
func (s *ingestServiceImpl) IngestDocument(ctx context.Context, req services.IngestRequest) (*models.Document, error) {
	start := time.Now()

	// A dropped client connection must not abandon work in flight, so
	// the pipeline runs detached from the caller under its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deadline)
	defer cancel()

	if req.OwnerID == "" || req.OwnerID == models.DefaultOwnerID {
		return nil, fmt.Errorf("%w: invalid owner_id", services.ErrInvalidInput)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", services.ErrInvalidInput)
	}
	if len(req.Data) == 0 {
		return nil, services.ErrEmptyDocument
	}

	parsed, err := ingest.Parse(req.ContentType, req.Data)
	if err != nil {
		return nil, err
	}

	chunks, err := s.chunker.Chunk(parsed.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return nil, services.ErrEmptyDocument
	}

	doc := &models.Document{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		SourceName:  req.SourceName,
		ContentType: req.ContentType,
		Status:      models.DocumentStatusReady,
		CharCount:   len(parsed.Text),
		TokenCount:  s.chunker.CountTokens(parsed.Text),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	sections := make([]models.DocumentSection, len(chunks))
	for i, chunk := range chunks {
		sections[i] = models.DocumentSection{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			OwnerID:    req.OwnerID,
			ChunkIndex: chunk.Index,
			Content:    chunk.Text,
			TokenCount: chunk.TokenCount,
			Metadata: models.SectionMetadata{
				SourceName: req.SourceName,
				Page:       parsed.PageFor(chunk.Offset),
			},
			CreatedAt: time.Now(),
		}
	}
	doc.SectionCount = len(sections)

	var contextual *services.ContextualResult
	if s.contextualizer.Enabled() {
		contextual = s.runContextual(ctx, doc, parsed.Text, sections)
		if contextual != nil {
			for i := range sections {
				sections[i].Context = contextual.Contexts[i]
			}
			doc.Contextualized = contextual.Mode == "streaming" || contextual.Mode == "batch"
		}
	}

	texts := make([]string, len(sections))
	for i := range sections {
		texts[i] = sections[i].IndexableText()
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed document: %w", err)
	}
	for i := range sections {
		sections[i].Embedding = pgvector.NewVector(vectors[i])
	}

	if err := s.store.CreateDocumentWithSections(ctx, doc, sections); err != nil {
		return nil, err
	}

	if contextual != nil && doc.Contextualized {
		stat := &models.ContextualProcessingStat{
			ID:                  uuid.New(),
			OwnerID:             doc.OwnerID,
			DocumentID:          doc.ID,
			Mode:                contextual.Mode,
			ChunksProcessed:     len(sections) - contextual.Skipped,
			ChunksSkipped:       contextual.Skipped,
			InputTokens:         contextual.Usage.InputTokens,
			OutputTokens:        contextual.Usage.OutputTokens,
			CacheCreationTokens: contextual.Usage.CacheCreationTokens,
			CacheReadTokens:     contextual.Usage.CacheReadTokens,
			EstimatedCostUSD:    contextual.Usage.EstimatedCostUSD(),
			DurationMs:          time.Since(start).Milliseconds(),
			CreatedAt:           time.Now(),
		}
		if err := s.store.RecordContextualStat(ctx, stat); err != nil {
			log.Printf("ingest: failed to record contextual stat for %s: %v", doc.ID, err)
		}
	}

	if err := s.RebuildIndex(ctx, req.OwnerID); err != nil {
		log.Printf("ingest: index rebuild failed for owner %s: %v", req.OwnerID, err)
	}
	s.cache.Invalidate(ctx, req.OwnerID)

	metrics.DocumentsIngested.Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	log.Printf("ingest: document %s (%q) ingested for owner %s: %d sections, %d tokens, %v",
		doc.ID, doc.Title, doc.OwnerID, doc.SectionCount, doc.TokenCount, time.Since(start))

	return doc, nil
}

// runContextual applies the daily cap and runs enrichment. Enrichment
// failures are logged and the document proceeds uncontextualized.
func (s *ingestServiceImpl) runContextual(ctx context.Context, doc *models.Document, fullText string, sections []models.DocumentSection) *services.ContextualResult {
	count, err := s.store.CountContextualRequestsToday(ctx)
	if err != nil {
		log.Printf("ingest: daily contextual count failed, skipping enrichment: %v", err)
		return nil
	}
	if count >= int64(s.maxDailyContextual) {
		log.Printf("ingest: daily contextual cap reached (%d), skipping enrichment for %s", count, doc.ID)
		return nil
	}

	result, err := s.contextualizer.ContextualizeDocument(ctx, doc, fullText, sections)
	if err != nil {
		log.Printf("ingest: contextual enrichment failed for %s: %v", doc.ID, err)
		return nil
	}
	return result
}

func (s *ingestServiceImpl) RemoveDocument(ctx context.Context, id uuid.UUID, ownerID string) error {
	if err := s.store.DeleteDocument(ctx, id, ownerID); err != nil {
		return err
	}

	if err := s.RebuildIndex(ctx, ownerID); err != nil {
		log.Printf("ingest: index rebuild failed after delete for owner %s: %v", ownerID, err)
	}
	s.cache.Invalidate(ctx, ownerID)

	return nil
}

// ContextualizeDocument enriches a document after the fact, for uploads
// that happened while enrichment was disabled or skipped.
func (s *ingestServiceImpl) ContextualizeDocument(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error) {
	if !s.contextualizer.Enabled() {
		return nil, fmt.Errorf("%w: contextual retrieval is disabled", services.ErrInvalidInput)
	}

	doc, err := s.store.GetDocument(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Contextualized {
		return nil, fmt.Errorf("%w: document is already contextualized", services.ErrInvalidInput)
	}

	sections, err := s.store.GetSections(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, services.ErrEmptyDocument
	}

	count, err := s.store.CountContextualRequestsToday(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check daily contextual cap: %w", err)
	}
	if count >= int64(s.maxDailyContextual) {
		return nil, fmt.Errorf("%w: daily contextual request cap reached", services.ErrCapacityExceeded)
	}

	// The chunker overlaps neighbors, so joining sections is only an
	// approximation of the original text. Good enough to situate chunks.
	fullText := make([]string, len(sections))
	for i := range sections {
		fullText[i] = sections[i].Content
	}
	document := strings.Join(fullText, "\n\n")

	start := time.Now()
	result, err := s.contextualizer.ContextualizeDocument(ctx, doc, document, sections)
	if err != nil {
		return nil, err
	}
	if result.Mode == "skipped" {
		return nil, fmt.Errorf("%w: document exceeds the contextual token cap", services.ErrCapacityExceeded)
	}

	changed := make([]models.DocumentSection, 0, len(sections))
	texts := make([]string, 0, len(sections))
	for i := range sections {
		if result.Contexts[i] == "" {
			continue
		}
		sections[i].Context = result.Contexts[i]
		changed = append(changed, sections[i])
		texts = append(texts, sections[i].IndexableText())
	}

	if len(changed) > 0 {
		vectors, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to re-embed contextualized sections: %w", err)
		}
		for i := range changed {
			changed[i].Embedding = pgvector.NewVector(vectors[i])
		}

		if err := s.store.UpdateSectionContexts(ctx, id, ownerID, changed); err != nil {
			return nil, err
		}
		doc.Contextualized = true
	}

	stat := &models.ContextualProcessingStat{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		DocumentID:          id,
		Mode:                result.Mode,
		ChunksProcessed:     len(changed),
		ChunksSkipped:       result.Skipped,
		InputTokens:         result.Usage.InputTokens,
		OutputTokens:        result.Usage.OutputTokens,
		CacheCreationTokens: result.Usage.CacheCreationTokens,
		CacheReadTokens:     result.Usage.CacheReadTokens,
		EstimatedCostUSD:    result.Usage.EstimatedCostUSD(),
		DurationMs:          time.Since(start).Milliseconds(),
		CreatedAt:           time.Now(),
	}
	if err := s.store.RecordContextualStat(ctx, stat); err != nil {
		log.Printf("ingest: failed to record contextual stat for %s: %v", id, err)
	}

	if err := s.RebuildIndex(ctx, ownerID); err != nil {
		log.Printf("ingest: index rebuild failed after contextualization for owner %s: %v", ownerID, err)
	}
	s.cache.Invalidate(ctx, ownerID)

	return doc, nil
}

func (s *ingestServiceImpl) RebuildIndex(ctx context.Context, ownerID string) error {
	sections, err := s.store.GetOwnerSections(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to load sections for index rebuild: %w", err)
	}

	entries := make([]index.Entry, len(sections))
	for i := range sections {
		entries[i] = index.Entry{
			SectionID:  sections[i].ID,
			DocumentID: sections[i].DocumentID,
			Text:       sections[i].IndexableText(),
		}
	}

	s.registry.Publish(ownerID, index.Build(entries))
	metrics.IndexRebuilds.Inc()

	return nil
}
