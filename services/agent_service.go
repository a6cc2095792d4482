package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/aigroupchat/backend/models"
)

type AgentService interface {
	CreateAgent(ctx context.Context, req models.CreateAgentRequest) (*models.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID, ownerID string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, id uuid.UUID, req models.UpdateAgentRequest, ownerID string) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID, ownerID string) error

	// ListAgents returns the built-in default agents followed by the
	// owner's own agents.
	ListAgents(ctx context.Context, ownerID string) (*models.AgentListResponse, error)

	LinkDocuments(ctx context.Context, agentID uuid.UUID, documentIDs []uuid.UUID, ownerID string) error
	UnlinkDocument(ctx context.Context, agentID uuid.UUID, documentID uuid.UUID, ownerID string) error

	// AllowedDocumentIDs resolves an agent's document allow-list for the
	// retrieval path. restricted is always true for an existing agent;
	// an agent with zero links gets an empty list, meaning it retrieves
	// nothing.
	AllowedDocumentIDs(ctx context.Context, agentID uuid.UUID, ownerID string) (ids []uuid.UUID, restricted bool, err error)

	// SeedDefaultAgents inserts the built-in personas if missing. Called
	// once at startup; idempotent.
	SeedDefaultAgents(ctx context.Context) error
}
