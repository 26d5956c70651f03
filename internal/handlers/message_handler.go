package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/SerOes/instaai-sub001/internal/models"
	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MessageHandler exposes the message log. Appending an inbound message
// kicks off the automation pipeline for it in the background.
type MessageHandler struct {
	messageService *services.MessageService
	orchestrator   *services.Orchestrator
	logger         *logrus.Logger
}

func NewMessageHandler(messageService *services.MessageService, orchestrator *services.Orchestrator, logger *logrus.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		orchestrator:   orchestrator,
		logger:         logger,
	}
}

// AppendMessage writes one message to the log. Inbound messages are
// handed to the orchestrator after the append commits; the HTTP response
// never waits for classification or composition.
func (h *MessageHandler) AppendMessage(c *gin.Context) {
	var req services.MessageCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	msg, err := h.messageService.Append(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to append message: %v", err)
		respondError(c, "Failed to append message", err)
		return
	}

	if msg.Direction == models.DirectionInbound && h.orchestrator != nil {
		go func(id uint) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if _, err := h.orchestrator.ProcessInbound(ctx, id); err != nil {
				h.logger.Errorf("Automation pipeline failed for message %d: %v", id, err)
			}
		}(msg.ID)
	}

	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns one conversation's log in chronological order.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	var req services.MessageListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	messages, total, err := h.messageService.List(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to list messages", err)
		return
	}

	c.JSON(http.StatusOK, paginated(messages, total, req.Page, req.PageSize))
}

func (h *MessageHandler) GetMessage(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	msg, err := h.messageService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Failed to load message", err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// UpdateMessageStatus moves a message through its delivery and AI status
// machines. Illegal AI transitions come back as 409.
func (h *MessageHandler) UpdateMessageStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var patch services.MessageStatusPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	msg, err := h.messageService.UpdateStatus(c.Request.Context(), id, &patch)
	if err != nil {
		h.logger.Errorf("Failed to update message %d: %v", id, err)
		respondError(c, "Failed to update message status", err)
		return
	}

	c.JSON(http.StatusOK, msg)
}

// RegisterMessageRoutes mounts the message log endpoints.
func RegisterMessageRoutes(r *gin.RouterGroup, handler *MessageHandler) {
	messages := r.Group("/messages")
	{
		messages.POST("", handler.AppendMessage)
		messages.GET("", handler.ListMessages)
		messages.GET("/:id", handler.GetMessage)
		messages.PATCH("/:id", handler.UpdateMessageStatus)
	}
}
