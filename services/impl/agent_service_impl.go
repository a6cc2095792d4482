package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

type agentServiceImpl struct {
	db *gorm.DB
}

func NewAgentService(db *gorm.DB) services.AgentService {
	return &agentServiceImpl{
		db: db,
	}
}

func (s *agentServiceImpl) CreateAgent(ctx context.Context, req models.CreateAgentRequest) (*models.Agent, error) {
	if req.OwnerID == models.DefaultOwnerID {
		return nil, fmt.Errorf("%w: owner id %q is reserved", services.ErrInvalidInput, models.DefaultOwnerID)
	}

	agent := &models.Agent{
		ID:           uuid.New(),
		OwnerID:      req.OwnerID,
		Name:         req.Name,
		Slug:         req.Slug,
		Instructions: req.Instructions,
		VoiceID:      req.VoiceID,
		Greeting:     req.Greeting,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return agent, nil
}

func (s *agentServiceImpl) GetAgent(ctx context.Context, id uuid.UUID, ownerID string) (*models.Agent, error) {
	var agent models.Agent

	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id IN ?", id, []string{ownerID, models.DefaultOwnerID}).
		First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("agent %s: %w", id, services.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return &agent, nil
}

func (s *agentServiceImpl) UpdateAgent(ctx context.Context, id uuid.UUID, req models.UpdateAgentRequest, ownerID string) (*models.Agent, error) {
	agent, err := s.getOwnedAgent(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Instructions != nil {
		updates["instructions"] = *req.Instructions
	}
	if req.VoiceID != nil {
		updates["voice_id"] = *req.VoiceID
	}
	if req.Greeting != nil {
		updates["greeting"] = *req.Greeting
	}

	if err := s.db.WithContext(ctx).Model(agent).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}

	return agent, nil
}

func (s *agentServiceImpl) DeleteAgent(ctx context.Context, id uuid.UUID, ownerID string) error {
	agent, err := s.getOwnedAgent(ctx, id, ownerID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", agent.ID).Delete(&models.AgentDocument{}).Error; err != nil {
			return fmt.Errorf("failed to delete agent links: %w", err)
		}
		if err := tx.Delete(agent).Error; err != nil {
			return fmt.Errorf("failed to delete agent: %w", err)
		}
		return nil
	})
}

func (s *agentServiceImpl) ListAgents(ctx context.Context, ownerID string) (*models.AgentListResponse, error) {
	var agents []models.Agent

	err := s.db.WithContext(ctx).
		Where("owner_id IN ?", []string{models.DefaultOwnerID, ownerID}).
		Order("is_default DESC, created_at ASC").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	return &models.AgentListResponse{Agents: agents, Total: len(agents)}, nil
}

func (s *agentServiceImpl) LinkDocuments(ctx context.Context, agentID uuid.UUID, documentIDs []uuid.UUID, ownerID string) error {
	agent, err := s.getOwnedAgent(ctx, agentID, ownerID)
	if err != nil {
		return err
	}

	if len(documentIDs) == 0 {
		return fmt.Errorf("%w: document_ids must not be empty", services.ErrInvalidInput)
	}

	// Every linked document must belong to the same owner.
	var count int64
	err = s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id IN ? AND owner_id = ?", documentIDs, ownerID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to verify documents: %w", err)
	}
	if count != int64(len(documentIDs)) {
		return fmt.Errorf("one or more documents: %w", services.ErrNotFound)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, docID := range documentIDs {
			link := models.AgentDocument{
				AgentID:    agent.ID,
				DocumentID: docID,
				CreatedAt:  time.Now(),
			}
			err := tx.Where("agent_id = ? AND document_id = ?", agent.ID, docID).
				FirstOrCreate(&link).Error
			if err != nil {
				return fmt.Errorf("failed to link document %s: %w", docID, err)
			}
		}
		return nil
	})
}

func (s *agentServiceImpl) UnlinkDocument(ctx context.Context, agentID uuid.UUID, documentID uuid.UUID, ownerID string) error {
	agent, err := s.getOwnedAgent(ctx, agentID, ownerID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("agent_id = ? AND document_id = ?", agent.ID, documentID).
		Delete(&models.AgentDocument{})
	if result.Error != nil {
		return fmt.Errorf("failed to unlink document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("link %s -> %s: %w", agentID, documentID, services.ErrNotFound)
	}

	return nil
}

func (s *agentServiceImpl) AllowedDocumentIDs(ctx context.Context, agentID uuid.UUID, ownerID string) ([]uuid.UUID, bool, error) {
	if _, err := s.GetAgent(ctx, agentID, ownerID); err != nil {
		return nil, false, err
	}

	var links []models.AgentDocument
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Find(&links).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to load agent links: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.DocumentID)
	}
	return ids, true, nil
}

func (s *agentServiceImpl) SeedDefaultAgents(ctx context.Context) error {
	for _, tmpl := range models.DefaultAgentTemplates() {
		agent := models.Agent{
			ID:           uuid.New(),
			OwnerID:      models.DefaultOwnerID,
			Name:         tmpl.Name,
			Slug:         tmpl.Slug,
			Instructions: tmpl.Instructions,
			VoiceID:      tmpl.VoiceID,
			Greeting:     tmpl.Greeting,
			IsDefault:    true,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}

		err := s.db.WithContext(ctx).
			Where("owner_id = ? AND slug = ?", models.DefaultOwnerID, tmpl.Slug).
			FirstOrCreate(&agent).Error
		if err != nil {
			return fmt.Errorf("failed to seed agent %s: %w", tmpl.Slug, err)
		}
	}
	return nil
}

// getOwnedAgent loads an agent the owner can modify. Built-in agents are
// readable by everyone but owned by nobody.
func (s *agentServiceImpl) getOwnedAgent(ctx context.Context, id uuid.UUID, ownerID string) (*models.Agent, error) {
	var agent models.Agent

	err := s.db.WithContext(ctx).Where("id = ?", id).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("agent %s: %w", id, services.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if agent.IsDefault || agent.OwnerID != ownerID {
		return nil, fmt.Errorf("agent %s: %w", id, services.ErrForbidden)
	}

	return &agent, nil
}
