package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/orchestrator/internal/service"
	"storybook-server/shared/models"
)

// StoryHandler exposes the generation API over HTTP.
type StoryHandler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

func NewStoryHandler(orchestrator *service.Orchestrator, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		orchestrator: orchestrator,
		logger:       logger.Named("StoryHandler"),
	}
}

// RegisterRoutes attaches the handler to an authenticated route group.
func (h *StoryHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/stories", h.createStory)
	group.GET("/stories/:id", h.getStory)
}

// createStoryRequest is the client-facing request body. The owner comes from
// the token, never from the body.
type createStoryRequest struct {
	Theme            string                 `json:"theme" binding:"required"`
	Mood             string                 `json:"mood"`
	Rhyme            bool                   `json:"rhyme"`
	PageCount        int                    `json:"pageCount"`
	Characters       []models.CharacterSpec `json:"characters"`
	TextModels       []string               `json:"textModels"`
	CoverImageModels []string               `json:"coverImageModels"`
	PageImageModels  []string               `json:"pageImageModels"`
	ArtStyles        []string               `json:"artStyles"`
}

func (h *StoryHandler) createStory(c *gin.Context) {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var body createStoryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req := &models.GenerationRequest{
		OwnerID:          ownerID,
		Theme:            body.Theme,
		Mood:             body.Mood,
		Rhyme:            body.Rhyme,
		PageCount:        body.PageCount,
		Characters:       body.Characters,
		TextModels:       body.TextModels,
		CoverImageModels: body.CoverImageModels,
		PageImageModels:  body.PageImageModels,
		ArtStyles:        body.ArtStyles,
	}

	story, err := h.orchestrator.GenerateStory(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("Story generation request failed",
			zap.String("owner_id", ownerID.String()),
			zap.Error(err))
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrProfileNotFound):
			status = http.StatusBadRequest
		case errors.Is(err, models.ErrStructuralText):
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": service.UserFacingError(err)})
		return
	}

	c.JSON(http.StatusAccepted, story)
}

func (h *StoryHandler) getStory(c *gin.Context) {
	ownerID, ok := ownerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid story id"})
		return
	}

	story, err := h.orchestrator.GetStory(c.Request.Context(), ownerID, storyID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrStoryNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "story not found"})
		case errors.Is(err, models.ErrForbidden):
			// Same response as not found, ownership is not leaked.
			c.JSON(http.StatusNotFound, gin.H{"error": "story not found"})
		default:
			h.logger.Error("Failed to load story",
				zap.String("story_id", storyID.String()),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, story)
}

func ownerFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(string(models.UserContextKey))
	if !exists {
		return uuid.Nil, false
	}
	ownerID, ok := val.(uuid.UUID)
	return ownerID, ok
}
