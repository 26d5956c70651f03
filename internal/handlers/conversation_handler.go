package handlers

import (
	"net/http"

	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConversationHandler exposes the conversation store.
type ConversationHandler struct {
	conversationService *services.ConversationService
	logger              *logrus.Logger
}

func NewConversationHandler(conversationService *services.ConversationService, logger *logrus.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		logger:              logger,
	}
}

type conversationCreateRequest struct {
	ChannelID        uint                 `json:"channel_id" binding:"required"`
	ExternalThreadID string               `json:"external_thread_id" binding:"required"`
	Participant      services.Participant `json:"participant" binding:"required"`
}

// CreateConversation finds or creates the thread for the given external
// identifiers. Posting the same thread twice returns the existing row.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req conversationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	conv, created, err := h.conversationService.FindOrCreate(
		c.Request.Context(), req.ChannelID, req.ExternalThreadID, req.Participant)
	if err != nil {
		h.logger.Errorf("Failed to create conversation: %v", err)
		respondError(c, "Failed to create conversation", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

// ListConversations returns threads ordered by recent activity.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	var req services.ConversationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	conversations, total, err := h.conversationService.List(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list conversations: %v", err)
		respondError(c, "Failed to list conversations", err)
		return
	}

	c.JSON(http.StatusOK, paginated(conversations, total, req.Page, req.PageSize))
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	conv, err := h.conversationService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to load conversation", err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

// MarkRead zeroes the unread counter. Safe to call repeatedly.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.conversationService.MarkRead(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to mark conversation read", err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "conversation marked read"})
}

type automatedToggleRequest struct {
	IsAutomated *bool `json:"is_automated" binding:"required"`
}

// SetAutomated includes or excludes one thread from automation without
// touching the channel-wide settings.
func (h *ConversationHandler) SetAutomated(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req automatedToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.conversationService.SetAutomated(c.Request.Context(), id, *req.IsAutomated); err != nil {
		respondError(c, "Failed to update conversation", err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "conversation updated"})
}

// DeleteConversation removes the thread and its full message log.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.conversationService.Delete(c.Request.Context(), id); err != nil {
		h.logger.Errorf("Failed to delete conversation %d: %v", id, err)
		respondError(c, "Failed to delete conversation", err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "conversation deleted"})
}

// RegisterConversationRoutes mounts the conversation endpoints.
func RegisterConversationRoutes(r *gin.RouterGroup, handler *ConversationHandler) {
	conversations := r.Group("/conversations")
	{
		conversations.POST("", handler.CreateConversation)
		conversations.GET("", handler.ListConversations)
		conversations.GET("/:id", handler.GetConversation)
		conversations.POST("/:id/read", handler.MarkRead)
		conversations.PUT("/:id/automation", handler.SetAutomated)
		conversations.DELETE("/:id", handler.DeleteConversation)
	}
}
