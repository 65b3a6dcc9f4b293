package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationType selects the coaching script that governs a conversation
type ConversationType string

const (
	ValuesDiscovery ConversationType = "VALUES_DISCOVERY"
	IdentityCraft   ConversationType = "IDENTITY_CRAFT"
	DailyReflection ConversationType = "DAILY_REFLECTION"
	BeliefWork      ConversationType = "BELIEF_WORK"
	Coaching        ConversationType = "COACHING"
	General         ConversationType = "GENERAL"
)

// AllConversationTypes lists every known conversation type
var AllConversationTypes = []ConversationType{
	ValuesDiscovery,
	IdentityCraft,
	DailyReflection,
	BeliefWork,
	Coaching,
	General,
}

// Valid reports whether t is one of the known conversation types
func (t ConversationType) Valid() bool {
	for _, known := range AllConversationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DefaultTitle names a new conversation of type t started at now,
// e.g. "Values Discovery - Jan 2"
func (t ConversationType) DefaultTitle(now time.Time) string {
	var label string
	switch t {
	case ValuesDiscovery:
		label = "Values Discovery"
	case IdentityCraft:
		label = "Identity Crafting"
	case DailyReflection:
		label = "Daily Reflection"
	case BeliefWork:
		label = "Belief Work"
	case Coaching:
		label = "Coaching Session"
	default:
		label = "Conversation"
	}
	return label + " - " + now.Format("Jan 2")
}

// Role is the author of a conversation message
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// Conversation represents a coaching conversation owned by a user
type Conversation struct {
	ID            uuid.UUID        `json:"id"`
	UserID        uuid.UUID        `json:"user_id"`
	Type          ConversationType `json:"type"`
	Title         string           `json:"title"`
	IsActive      bool             `json:"is_active"`
	IsComplete    bool             `json:"is_complete"`
	Model         string           `json:"model"`
	StartedAt     time.Time        `json:"started_at"`
	LastMessageAt time.Time        `json:"last_message_at"`
	Messages      []Message        `json:"messages,omitempty"`
}

// Message represents a message in a conversation. Messages are never
// modified after they are written.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Belief is a typed statement about the user. Type is one of VALUE,
// LIMITING, EMPOWERING or an IDENTITY_* variant.
type Belief struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Statement string    `json:"statement"`
	Category  *string   `json:"category,omitempty"`
	Strength  *int      `json:"strength,omitempty"`
}

// DailyEntry is a mood/alignment sample recorded by the user
type DailyEntry struct {
	Date            time.Time `json:"date"`
	EnergyLevel     *int      `json:"energy_level"`
	AlignmentScore  *int      `json:"alignment_score"`
	MorningResponse *string   `json:"morning_response,omitempty"`
	EveningResponse *string   `json:"evening_response,omitempty"`
}

// CreateConversationRequest is the request body for starting a conversation
type CreateConversationRequest struct {
	Type  ConversationType `json:"type"`
	Title string           `json:"title"`
}

// SendMessageRequest is the request body for sending a message
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// UpdateConversationRequest is the request body for marking a conversation complete
type UpdateConversationRequest struct {
	IsComplete *bool `json:"is_complete" binding:"required"`
}

// ChatResponse is the response for a chat message
type ChatResponse struct {
	Message  string    `json:"message"`
	Messages []Message `json:"messages"`
}

// DailyPromptRequest is the request body for a daily reflection prompt
type DailyPromptRequest struct {
	IsMorning bool `json:"is_morning"`
}

// DailyReflectionRequest is the request body for an end-of-day reflection
type DailyReflectionRequest struct {
	MorningResponse *string `json:"morning_response"`
	EveningResponse *string `json:"evening_response"`
	EnergyLevel     *int    `json:"energy_level" binding:"omitempty,min=1,max=10"`
	AlignmentScore  *int    `json:"alignment_score" binding:"omitempty,min=1,max=10"`
}
