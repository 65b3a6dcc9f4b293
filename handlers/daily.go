package handlers

import (
	"context"
	"net/http"

	"identityforge/models"
	"identityforge/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	patternWindow     = 30
	minPatternEntries = 7
	promptValueLimit  = 5
)

// JournalStore reads what the daily features need about a user
type JournalStore interface {
	ValueNames(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)
	IdentityStatement(ctx context.Context, userID uuid.UUID) (string, error)
	RecentEntries(ctx context.Context, userID uuid.UUID, limit int) ([]models.DailyEntry, error)
}

// DailyCoach generates journaling prompts, reflections and pattern analyses
type DailyCoach interface {
	GenerateDailyPrompt(ctx context.Context, opts services.DailyPromptOptions) (string, error)
	GenerateDailyReflection(ctx context.Context, in services.DailyReflectionInput) (string, error)
	AnalyzePatterns(ctx context.Context, entries []models.DailyEntry, values []string) (*services.PatternAnalysis, error)
}

// DailyHandler handles daily journaling HTTP requests
type DailyHandler struct {
	store  JournalStore
	coach  DailyCoach
	logger *zap.Logger
}

// NewDailyHandler creates a new daily handler
func NewDailyHandler(store JournalStore, coach DailyCoach, logger *zap.Logger) *DailyHandler {
	return &DailyHandler{store: store, coach: coach, logger: logger}
}

// PatternsResponse is the response for pattern analysis
type PatternsResponse struct {
	EntriesAnalyzed int                       `json:"entries_analyzed"`
	HasEnoughData   bool                      `json:"has_enough_data"`
	PatternAnalysis *services.PatternAnalysis `json:"pattern_analysis"`
}

// Prompt returns a morning or evening journaling prompt informed by the
// user's values, identity and most recent entry
func (h *DailyHandler) Prompt(c *gin.Context) {
	userID := currentUser(c)
	ctx := c.Request.Context()

	var req models.DailyPromptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	values, err := h.store.ValueNames(ctx, userID, promptValueLimit)
	if err != nil {
		h.storageFailure(c, "load values", userID, err)
		return
	}
	identity, err := h.store.IdentityStatement(ctx, userID)
	if err != nil {
		h.storageFailure(c, "load identity", userID, err)
		return
	}
	latest, err := h.store.RecentEntries(ctx, userID, 1)
	if err != nil {
		h.storageFailure(c, "load entries", userID, err)
		return
	}

	opts := services.DailyPromptOptions{
		IsMorning:    req.IsMorning,
		UserValues:   values,
		UserIdentity: identity,
	}
	if len(latest) > 0 {
		opts.PreviousEnergy = latest[0].EnergyLevel
		opts.PreviousAlignment = latest[0].AlignmentScore
	}

	prompt, err := h.coach.GenerateDailyPrompt(ctx, opts)
	if err != nil {
		h.coachFailure(c, "daily prompt", userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"prompt": prompt})
}

// Reflection returns a short reflection on the day's entry
func (h *DailyHandler) Reflection(c *gin.Context) {
	userID := currentUser(c)
	ctx := c.Request.Context()

	var req models.DailyReflectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	values, err := h.store.ValueNames(ctx, userID, promptValueLimit)
	if err != nil {
		h.storageFailure(c, "load values", userID, err)
		return
	}

	reflection, err := h.coach.GenerateDailyReflection(ctx, services.DailyReflectionInput{
		MorningResponse: req.MorningResponse,
		EveningResponse: req.EveningResponse,
		EnergyLevel:     req.EnergyLevel,
		AlignmentScore:  req.AlignmentScore,
		UserValues:      values,
	})
	if err != nil {
		h.coachFailure(c, "daily reflection", userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reflection": reflection})
}

// Patterns analyzes the user's recent entries once there are enough of them
func (h *DailyHandler) Patterns(c *gin.Context) {
	userID := currentUser(c)
	ctx := c.Request.Context()

	entries, err := h.store.RecentEntries(ctx, userID, patternWindow)
	if err != nil {
		h.storageFailure(c, "load entries", userID, err)
		return
	}

	resp := PatternsResponse{
		EntriesAnalyzed: len(entries),
		HasEnoughData:   len(entries) >= minPatternEntries,
	}
	if !resp.HasEnoughData {
		c.JSON(http.StatusOK, resp)
		return
	}

	values, err := h.store.ValueNames(ctx, userID, 0)
	if err != nil {
		h.storageFailure(c, "load values", userID, err)
		return
	}

	resp.PatternAnalysis, err = h.coach.AnalyzePatterns(ctx, entries, values)
	if err != nil {
		h.coachFailure(c, "pattern analysis", userID, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DailyHandler) storageFailure(c *gin.Context, what string, userID uuid.UUID, err error) {
	h.logger.Error(what+" failed", zap.String("userID", userID.String()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func (h *DailyHandler) coachFailure(c *gin.Context, what string, userID uuid.UUID, err error) {
	h.logger.Error(what+" failed", zap.String("userID", userID.String()), zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": coachUnavailable})
}
