package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

type DocumentHandlers struct {
	ingest         services.IngestService
	store          services.DocumentStore
	retriever      services.Retriever
	contextService services.ContextService
	maxUploadBytes int64
}

func NewDocumentHandlers(
	ingest services.IngestService,
	store services.DocumentStore,
	retriever services.Retriever,
	contextService services.ContextService,
	maxUploadBytes int64,
) *DocumentHandlers {
	return &DocumentHandlers{
		ingest:         ingest,
		store:          store,
		retriever:      retriever,
		contextService: contextService,
		maxUploadBytes: maxUploadBytes,
	}
}

// UploadDocument handles POST /api/documents as a multipart form:
// file, title, owner_id, optional doc_type overriding the detected
// content type.
func (h *DocumentHandlers) UploadDocument(c *gin.Context) {
	ownerID := c.PostForm("owner_id")
	title := c.PostForm("title")
	if ownerID == "" || title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and title are required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "details": err.Error()})
		return
	}

	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	contentType := c.PostForm("doc_type")
	if contentType == "" {
		contentType = fileHeader.Header.Get("Content-Type")
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open upload", "details": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload", "details": err.Error()})
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	doc, err := h.ingest.IngestDocument(c.Request.Context(), services.IngestRequest{
		OwnerID:     ownerID,
		Title:       title,
		SourceName:  fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		respondError(c, err, "Failed to ingest document")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id": doc.ID,
		"chunk_count": doc.SectionCount,
	})
}

// ListDocuments handles GET /api/documents?owner_id=…
func (h *DocumentHandlers) ListDocuments(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	docs, err := h.store.ListDocuments(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err, "Failed to list documents")
		return
	}

	summaries := make([]models.DocumentSummary, 0, len(docs))
	for i := range docs {
		summaries = append(summaries, docs[i].ToSummary())
	}

	c.JSON(http.StatusOK, summaries)
}

// GetDocument handles GET /api/documents/:id?owner_id=… and returns the
// document with its ordered sections.
func (h *DocumentHandlers) GetDocument(c *gin.Context) {
	id, ownerID, ok := docScope(c)
	if !ok {
		return
	}

	doc, err := h.store.GetDocument(c.Request.Context(), id, ownerID)
	if err != nil {
		respondError(c, err, "Failed to get document")
		return
	}

	sections, err := h.store.GetSections(c.Request.Context(), id, ownerID)
	if err != nil {
		respondError(c, err, "Failed to get sections")
		return
	}

	resp := models.DocumentDetailResponse{
		DocumentResponse: doc.ToResponse(),
		Sections:         make([]models.SectionResponse, 0, len(sections)),
	}
	for _, s := range sections {
		resp.Sections = append(resp.Sections, models.SectionResponse{
			ID:         s.ID,
			ChunkIndex: s.ChunkIndex,
			Content:    s.Content,
			Context:    s.Context,
			TokenCount: s.TokenCount,
			Metadata:   s.Metadata,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteDocument handles DELETE /api/documents/:id?owner_id=…
func (h *DocumentHandlers) DeleteDocument(c *gin.Context) {
	id, ownerID, ok := docScope(c)
	if !ok {
		return
	}

	if err := h.ingest.RemoveDocument(c.Request.Context(), id, ownerID); err != nil {
		respondError(c, err, "Failed to delete document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ContextualizeDocument handles POST /api/documents/:id/contextualize.
func (h *DocumentHandlers) ContextualizeDocument(c *gin.Context) {
	id, ownerID, ok := docScope(c)
	if !ok {
		return
	}

	doc, err := h.ingest.ContextualizeDocument(c.Request.Context(), id, ownerID)
	if err != nil {
		respondError(c, err, "Failed to contextualize document")
		return
	}

	c.JSON(http.StatusOK, doc.ToResponse())
}

type searchResultResponse struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"document_title"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
}

// SearchDocuments handles POST /api/documents/search.
func (h *DocumentHandlers) SearchDocuments(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.retriever.Search(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Search failed")
		return
	}

	results := make([]searchResultResponse, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, searchResultResponse{
			ChunkID:    r.SectionID,
			DocumentID: r.DocumentID,
			Title:      r.DocumentTitle,
			Content:    r.DisplayText(),
			Score:      r.Score,
		})
	}

	c.JSON(http.StatusOK, results)
}

// GetContext handles POST /api/documents/context, the per-turn hot path.
func (h *DocumentHandlers) GetContext(c *gin.Context) {
	var req models.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.contextService.GetContext(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Context fetch failed")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetContextualStats handles GET /api/contextual/stats?owner_id=…
func (h *DocumentHandlers) GetContextualStats(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	stats, err := h.store.GetContextualStats(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err, "Failed to load stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func docScope(c *gin.Context) (uuid.UUID, string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return uuid.Nil, "", false
	}

	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return uuid.Nil, "", false
	}

	return id, ownerID, true
}

// respondError maps service error kinds to HTTP status codes.
func respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrUnsupportedType),
		errors.Is(err, services.ErrEmptyDocument):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrCapacityExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, services.ErrBackendTimeout):
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}
