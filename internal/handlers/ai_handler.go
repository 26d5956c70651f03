package handlers

import (
	"net/http"

	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AIHandler exposes the classification and composition pipeline directly,
// plus the automation audit log.
type AIHandler struct {
	orchestrator    *services.Orchestrator
	classifier      *services.Classifier
	composer        *services.Composer
	settingsService *services.SettingsService
	provider        services.TextProvider
	logger          *logrus.Logger
}

func NewAIHandler(
	orchestrator *services.Orchestrator,
	classifier *services.Classifier,
	composer *services.Composer,
	settingsService *services.SettingsService,
	provider services.TextProvider,
	logger *logrus.Logger,
) *AIHandler {
	return &AIHandler{
		orchestrator:    orchestrator,
		classifier:      classifier,
		composer:        composer,
		settingsService: settingsService,
		provider:        provider,
		logger:          logger,
	}
}

type generateRequest struct {
	MessageID uint `json:"message_id" binding:"required"`
}

// Generate runs the automation pipeline synchronously for one inbound
// message. Messages already past pending return 200 with no run.
func (h *AIHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	run, err := h.orchestrator.ProcessInbound(c.Request.Context(), req.MessageID)
	if err != nil {
		h.logger.Errorf("Pipeline run failed for message %d: %v", req.MessageID, err)
		respondError(c, "Failed to run automation", err)
		return
	}
	if run == nil {
		c.JSON(http.StatusOK, SuccessResponse{Message: "message already processed"})
		return
	}

	c.JSON(http.StatusOK, run)
}

type analyzeRequest struct {
	ChannelID uint   `json:"channel_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

// Analyze classifies a piece of text under a channel's settings without
// touching any stored message.
func (h *AIHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	settings, err := h.settingsService.Get(c.Request.Context(), req.ChannelID)
	if err != nil {
		respondError(c, "Failed to load automation settings", err)
		return
	}

	result := h.classifier.Classify(c.Request.Context(), req.Text, settings)
	c.JSON(http.StatusOK, result)
}

type suggestRequest struct {
	ChannelID uint   `json:"channel_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Count     int    `json:"count"`
}

// Suggest returns alternative reply drafts for a message. Nothing is
// persisted or sent.
func (h *AIHandler) Suggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	settings, err := h.settingsService.Get(c.Request.Context(), req.ChannelID)
	if err != nil {
		respondError(c, "Failed to load automation settings", err)
		return
	}

	suggestions := h.composer.Suggest(c.Request.Context(), req.Message, settings, req.Count)
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// Status reports provider health, including the circuit breaker state.
func (h *AIHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.provider.Status(c.Request.Context()))
}

// ListRuns returns the automation audit log, newest first.
func (h *AIHandler) ListRuns(c *gin.Context) {
	var req services.RunListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	runs, total, err := h.orchestrator.ListRuns(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to list automation runs", err)
		return
	}

	c.JSON(http.StatusOK, paginated(runs, total, req.Page, req.PageSize))
}

// RegisterAIRoutes mounts the pipeline and audit endpoints.
func RegisterAIRoutes(r *gin.RouterGroup, handler *AIHandler) {
	ai := r.Group("/ai")
	{
		ai.POST("/generate", handler.Generate)
		ai.PUT("/analyze", handler.Analyze)
		ai.POST("/suggest", handler.Suggest)
		ai.GET("/status", handler.Status)
	}
	automation := r.Group("/automation")
	{
		automation.GET("/runs", handler.ListRuns)
	}
}
