package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultOwnerID is the sentinel owner of the built-in agent templates.
// Agents under this owner are visible to everyone and cannot be deleted
// through the API.
const DefaultOwnerID = "_default"

type Agent struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID      string    `json:"owner_id" gorm:"type:varchar(255);not null;index"`
	Name         string    `json:"name" gorm:"not null"`
	Slug         string    `json:"slug" gorm:"type:varchar(100);not null"`
	Instructions string    `json:"instructions" gorm:"type:text;not null"`
	VoiceID      string    `json:"voice_id" gorm:"type:varchar(100)"`
	Greeting     string    `json:"greeting" gorm:"type:text"`
	IsDefault    bool      `json:"is_default" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (Agent) TableName() string {
	return "user_agents"
}

// AgentDocument links an agent to a document it is allowed to draw
// context from. An agent with at least one link retrieves only from
// linked documents; an agent with none retrieves from nothing.
type AgentDocument struct {
	AgentID    uuid.UUID `json:"agent_id" gorm:"type:uuid;primary_key"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;primary_key"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (AgentDocument) TableName() string {
	return "agent_documents"
}

type CreateAgentRequest struct {
	OwnerID      string `json:"owner_id" binding:"required"`
	Name         string `json:"name" binding:"required,max=255"`
	Slug         string `json:"slug" binding:"required,max=100"`
	Instructions string `json:"instructions" binding:"required"`
	VoiceID      string `json:"voice_id"`
	Greeting     string `json:"greeting"`
}

type UpdateAgentRequest struct {
	Name         *string `json:"name,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
	VoiceID      *string `json:"voice_id,omitempty"`
	Greeting     *string `json:"greeting,omitempty"`
}

type AgentListResponse struct {
	Agents []Agent `json:"agents"`
	Total  int     `json:"total"`
}

type LinkDocumentsRequest struct {
	DocumentIDs []uuid.UUID `json:"document_ids" binding:"required"`
}

// AgentTemplate is a built-in persona seeded at startup under DefaultOwnerID.
type AgentTemplate struct {
	Slug         string
	Name         string
	Instructions string
	VoiceID      string
	Greeting     string
}

// DefaultAgentTemplates are the three personas every owner sees alongside
// their own agents. Voice ids refer to ElevenLabs voices used by the
// voice pipeline.
func DefaultAgentTemplates() []AgentTemplate {
	return []AgentTemplate{
		{
			Slug: "study_partner",
			Name: "Alex",
			Instructions: "You are Alex, a friendly AI study partner. " +
				"You help students understand complex topics by asking thoughtful questions " +
				"and providing clear explanations. Keep responses conversational, engaging, " +
				"and limited to 2-3 sentences to maintain natural conversation flow. " +
				"Always be encouraging and supportive.",
			VoiceID:  "nPczCjzI2devNBz1zQrb",
			Greeting: "Greet the user warmly as Alex and ask what subject they'd like to study today.",
		},
		{
			Slug: "socratic_tutor",
			Name: "Sophie",
			Instructions: "You are Sophie, a Socratic tutor who guides students to discover answers themselves. " +
				"Instead of giving direct answers, ask probing questions that lead students to insights. " +
				"Be patient and encouraging. Keep responses to 2-3 sentences, focusing on one question at a time. " +
				"When students reach correct conclusions, celebrate their discovery.",
			VoiceID:  "EXAVITQu4vr4xnSDxMaL",
			Greeting: "Hello! I'm Sophie, and I love helping students discover answers through thoughtful questions. What topic shall we explore together today?",
		},
		{
			Slug: "debate_partner",
			Name: "Marcus",
			Instructions: "You are Marcus, a philosophical debate partner who enjoys exploring ideas through discussion. " +
				"Present thoughtful counterarguments and alternative perspectives while remaining respectful. " +
				"Challenge assumptions constructively. Keep responses to 2-3 sentences to maintain dynamic conversation. " +
				"Acknowledge good points when made and build upon them.",
			VoiceID:  "TxGEqnHWrfWFTfGW9XjX",
			Greeting: "Greetings! I'm Marcus, and I enjoy exploring ideas through respectful debate. What philosophical or intellectual topic would you like to discuss?",
		},
	}
}
