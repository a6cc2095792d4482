package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

type AgentHandlers struct {
	agentService services.AgentService
}

func NewAgentHandlers(agentService services.AgentService) *AgentHandlers {
	return &AgentHandlers{
		agentService: agentService,
	}
}

// CreateAgent handles POST /api/agents.
func (h *AgentHandlers) CreateAgent(c *gin.Context) {
	var req models.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	agent, err := h.agentService.CreateAgent(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to create agent")
		return
	}

	c.JSON(http.StatusCreated, agent)
}

// ListAgents handles GET /api/agents?owner_id=… and returns built-in
// personas followed by the owner's agents.
func (h *AgentHandlers) ListAgents(c *gin.Context) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	resp, err := h.agentService.ListAgents(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, err, "Failed to list agents")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAgent handles GET /api/agents/:id?owner_id=…
func (h *AgentHandlers) GetAgent(c *gin.Context) {
	id, ownerID, ok := agentScope(c)
	if !ok {
		return
	}

	agent, err := h.agentService.GetAgent(c.Request.Context(), id, ownerID)
	if err != nil {
		respondError(c, err, "Failed to get agent")
		return
	}

	c.JSON(http.StatusOK, agent)
}

// UpdateAgent handles PATCH /api/agents/:id?owner_id=…
func (h *AgentHandlers) UpdateAgent(c *gin.Context) {
	id, ownerID, ok := agentScope(c)
	if !ok {
		return
	}

	var req models.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	agent, err := h.agentService.UpdateAgent(c.Request.Context(), id, req, ownerID)
	if err != nil {
		respondError(c, err, "Failed to update agent")
		return
	}

	c.JSON(http.StatusOK, agent)
}

// DeleteAgent handles DELETE /api/agents/:id?owner_id=…
func (h *AgentHandlers) DeleteAgent(c *gin.Context) {
	id, ownerID, ok := agentScope(c)
	if !ok {
		return
	}

	if err := h.agentService.DeleteAgent(c.Request.Context(), id, ownerID); err != nil {
		respondError(c, err, "Failed to delete agent")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// LinkDocuments handles POST /api/agents/:id/documents.
func (h *AgentHandlers) LinkDocuments(c *gin.Context) {
	id, ownerID, ok := agentScope(c)
	if !ok {
		return
	}

	var req models.LinkDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.agentService.LinkDocuments(c.Request.Context(), id, req.DocumentIDs, ownerID); err != nil {
		respondError(c, err, "Failed to link documents")
		return
	}

	c.JSON(http.StatusOK, gin.H{"linked": len(req.DocumentIDs)})
}

// UnlinkDocument handles DELETE /api/agents/:id/documents/:doc_id.
func (h *AgentHandlers) UnlinkDocument(c *gin.Context) {
	id, ownerID, ok := agentScope(c)
	if !ok {
		return
	}

	docID, err := uuid.Parse(c.Param("doc_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	if err := h.agentService.UnlinkDocument(c.Request.Context(), id, docID, ownerID); err != nil {
		respondError(c, err, "Failed to unlink document")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func agentScope(c *gin.Context) (uuid.UUID, string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return uuid.Nil, "", false
	}

	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return uuid.Nil, "", false
	}

	return id, ownerID, true
}
