package handlers

import (
	"net/http"

	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SettingsHandler exposes per-channel automation configuration.
type SettingsHandler struct {
	settingsService *services.SettingsService
	logger          *logrus.Logger
}

func NewSettingsHandler(settingsService *services.SettingsService, logger *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{
		settingsService: settingsService,
		logger:          logger,
	}
}

// GetSettings returns the channel's automation settings. Channels that
// were never configured get the defaults with everything switched off.
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	channelID, ok := parseIDParam(c, "channelId")
	if !ok {
		return
	}

	settings, err := h.settingsService.Get(c.Request.Context(), channelID)
	if err != nil {
		h.logger.Errorf("Failed to load settings for channel %d: %v", channelID, err)
		respondError(c, "Failed to load automation settings", err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateSettings validates and persists a partial settings update.
// Omitted fields keep their stored values.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	channelID, ok := parseIDParam(c, "channelId")
	if !ok {
		return
	}

	var req services.SettingsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	settings, err := h.settingsService.Upsert(c.Request.Context(), channelID, &req)
	if err != nil {
		h.logger.Errorf("Failed to update settings for channel %d: %v", channelID, err)
		respondError(c, "Failed to update automation settings", err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

type toggleRequest struct {
	Enabled          *bool `json:"enabled"`
	AutoReplyEnabled *bool `json:"auto_reply_enabled"`
}

// ToggleSettings flips the enabled switches without touching the rest of
// the configuration.
func (h *SettingsHandler) ToggleSettings(c *gin.Context) {
	channelID, ok := parseIDParam(c, "channelId")
	if !ok {
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if req.Enabled == nil && req.AutoReplyEnabled == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: "at least one of enabled, auto_reply_enabled is required",
		})
		return
	}

	settings, err := h.settingsService.SetEnabled(c.Request.Context(), channelID, req.Enabled, req.AutoReplyEnabled)
	if err != nil {
		h.logger.Errorf("Failed to toggle automation for channel %d: %v", channelID, err)
		respondError(c, "Failed to toggle automation", err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// RegisterSettingsRoutes mounts the automation settings endpoints.
func RegisterSettingsRoutes(r *gin.RouterGroup, handler *SettingsHandler) {
	channels := r.Group("/channels")
	{
		channels.GET("/:channelId/automation", handler.GetSettings)
		channels.PUT("/:channelId/automation", handler.UpdateSettings)
		channels.PATCH("/:channelId/automation", handler.ToggleSettings)
	}
}
