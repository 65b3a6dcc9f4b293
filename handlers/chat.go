package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"identityforge/models"
	"identityforge/store"
	"identityforge/workflows"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// coachUnavailable is the only error text clients see for a failed coach call
const coachUnavailable = "Failed to get a response, please try again"

// ConversationStore is the read side of conversation persistence
type ConversationStore interface {
	GetConversation(ctx context.Context, userID, id uuid.UUID) (models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	SetConversationComplete(ctx context.Context, userID, id uuid.UUID, complete bool) error
}

// ChatRunner runs the durable chat workflows
type ChatRunner interface {
	SendMessage(input workflows.SendMessageInput) (workflows.SendMessageOutput, error)
	CreateConversation(input workflows.CreateConversationInput) (models.Conversation, error)
	DeleteConversation(input workflows.DeleteConversationInput) error
}

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	store  ConversationStore
	runner ChatRunner
	logger *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(store ConversationStore, runner ChatRunner, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		store:  store,
		runner: runner,
		logger: logger,
	}
}

// CreateConversation starts a conversation and returns it with the coach's opening question
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	userID := currentUser(c)

	var req models.CreateConversationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.Type == "" {
		req.Type = models.ValuesDiscovery
	}
	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation type"})
		return
	}

	conv, err := h.runner.CreateConversation(workflows.CreateConversationInput{
		UserID: userID,
		Type:   req.Type,
		Title:  strings.TrimSpace(req.Title),
	})
	if err != nil {
		h.logger.Error("create conversation workflow failed",
			zap.String("userID", userID.String()),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		workflowFailure(c, err, "Failed to create conversation")
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// ListConversations lists the caller's conversations, each with its latest message
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := currentUser(c)

	conversations, err := h.store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", zap.String("userID", userID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}

	c.JSON(http.StatusOK, conversations)
}

// GetConversation retrieves a conversation with all of its messages
func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		h.logger.Error("list messages failed", zap.String("conversationID", conv.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}
	conv.Messages = nonNil(messages)

	c.JSON(http.StatusOK, conv)
}

// UpdateConversation sets the completion flag of a conversation
func (h *ChatHandler) UpdateConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req models.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := currentUser(c)
	err := h.store.SetConversationComplete(c.Request.Context(), userID, id, *req.IsComplete)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		h.logger.Error("update conversation failed", zap.String("conversationID", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "is_complete": *req.IsComplete})
}

// DeleteConversation deletes a conversation using DBOS workflow
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}

	err := h.runner.DeleteConversation(workflows.DeleteConversationInput{
		UserID:         conv.UserID,
		ConversationID: conv.ID,
	})
	if err != nil {
		h.logger.Error("delete conversation workflow failed", zap.String("conversationID", conv.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// SendMessage sends a message and gets the coach reply using DBOS workflow
func (h *ChatHandler) SendMessage(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message content is required"})
		return
	}

	conv, ok := h.lookupConversation(c, id)
	if !ok {
		return
	}

	output, err := h.runner.SendMessage(workflows.SendMessageInput{
		UserID:           conv.UserID,
		ConversationID:   conv.ID,
		ConversationType: conv.Type,
		Content:          strings.TrimSpace(req.Content),
	})
	if err != nil {
		h.logger.Error("send message workflow failed",
			zap.String("conversationID", conv.ID.String()),
			zap.String("type", string(conv.Type)),
			zap.Error(err),
		)
		workflowFailure(c, err, "Failed to send message")
		return
	}

	messages, err := h.store.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		h.logger.Error("list messages failed", zap.String("conversationID", conv.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, models.ChatResponse{
		Message:  output.AssistantMessage.Content,
		Messages: nonNil(messages),
	})
}

// GetMessages retrieves all messages for a conversation in creation order
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conv, ok := h.loadConversation(c)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(c.Request.Context(), conv.ID)
	if err != nil {
		h.logger.Error("list messages failed", zap.String("conversationID", conv.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}

	c.JSON(http.StatusOK, nonNil(messages))
}

func (h *ChatHandler) loadConversation(c *gin.Context) (models.Conversation, bool) {
	id, ok := conversationID(c)
	if !ok {
		return models.Conversation{}, false
	}
	return h.lookupConversation(c, id)
}

// lookupConversation fetches a conversation owned by the caller. Foreign
// and missing conversations both answer 404.
func (h *ChatHandler) lookupConversation(c *gin.Context, id uuid.UUID) (models.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), currentUser(c), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return models.Conversation{}, false
	}
	if err != nil {
		h.logger.Error("get conversation failed", zap.String("conversationID", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get conversation"})
		return models.Conversation{}, false
	}
	return conv, true
}

func conversationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return uuid.Nil, false
	}
	return id, true
}

func nonNil(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}

// workflowFailure answers 503 when the coach failed and 500 for anything
// else. Neither response carries upstream detail.
func workflowFailure(c *gin.Context, err error, storageMessage string) {
	if errors.Is(err, workflows.ErrCoachFailed) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": coachUnavailable})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": storageMessage})
}
