package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SerOes/instaai-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SettingsService owns the per-channel automation configuration.
type SettingsService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewSettingsService(db *gorm.DB, logger *logrus.Logger) *SettingsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SettingsService{db: db, logger: logger}
}

// DefaultSettings is the documented configuration returned for channels
// that never saved settings: everything off, German, friendly tone.
func DefaultSettings(channelID uint) *models.AutomationSettings {
	return &models.AutomationSettings{
		ChannelID:          channelID,
		Enabled:            false,
		AutoReplyEnabled:   false,
		Language:           models.LanguageGerman,
		Tone:               models.ToneFriendly,
		ContextWindow:      5,
		MaxResponseLength:  500,
		CategoryResponses:  map[string]string{},
		KeywordRules:       []models.KeywordRule{},
		BlacklistedPhrases: []string{},
	}
}

// SettingsUpdateRequest is a partial update; nil fields are left untouched.
type SettingsUpdateRequest struct {
	Enabled              *bool                  `json:"enabled"`
	AutoReplyEnabled     *bool                  `json:"auto_reply_enabled"`
	Language             *string                `json:"language"`
	Tone                 *string                `json:"tone"`
	ResponseDelaySeconds *int                   `json:"response_delay_seconds"`
	SystemPrompt         *string                `json:"system_prompt"`
	ContextWindow        *int                   `json:"context_window"`
	MaxResponseLength    *int                   `json:"max_response_length"`
	CategoryResponses    map[string]string      `json:"category_responses"`
	KeywordRules         []models.KeywordRule   `json:"keyword_rules"`
	BlacklistedPhrases   []string               `json:"blacklisted_phrases"`
	OperatingHours       *models.OperatingHours `json:"operating_hours"`
	OutOfOfficeMessage   *string                `json:"out_of_office_message"`
}

// Get returns the channel's settings, or the documented default when the
// channel never saved any. The default is not persisted.
func (s *SettingsService) Get(ctx context.Context, channelID uint) (*models.AutomationSettings, error) {
	var settings models.AutomationSettings
	err := s.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(channelID), nil
	}
	if err != nil {
		return nil, &StorageError{Op: "settings.get", Err: err}
	}
	return &settings, nil
}

// Upsert creates the settings row if absent and merges the partial request
// otherwise. Out-of-range fields are rejected, never silently coerced.
func (s *SettingsService) Upsert(ctx context.Context, channelID uint, req *SettingsUpdateRequest) (*models.AutomationSettings, error) {
	if req == nil {
		return nil, &ValidationError{Field: "body", Reason: "request required"}
	}
	if err := validateSettingsUpdate(req); err != nil {
		return nil, err
	}

	var result *models.AutomationSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings models.AutomationSettings
		err := tx.Where("channel_id = ?", channelID).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			settings = *DefaultSettings(channelID)
		} else if err != nil {
			return err
		}

		applySettingsUpdate(&settings, req)
		settings.ChannelID = channelID
		if err := tx.Save(&settings).Error; err != nil {
			return err
		}
		result = &settings
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "settings.upsert", Err: err}
	}
	return result, nil
}

// SetEnabled is the narrow toggle used by the PATCH endpoint. It updates
// only the named flags and must not clobber unrelated fields.
func (s *SettingsService) SetEnabled(ctx context.Context, channelID uint, enabled, autoReply *bool) (*models.AutomationSettings, error) {
	if enabled == nil && autoReply == nil {
		return nil, &ValidationError{Field: "body", Reason: "at least one of enabled, auto_reply_enabled required"}
	}

	var result *models.AutomationSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings models.AutomationSettings
		err := tx.Where("channel_id = ?", channelID).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			settings = *DefaultSettings(channelID)
			if err := tx.Create(&settings).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if enabled != nil {
			updates["enabled"] = *enabled
			settings.Enabled = *enabled
		}
		if autoReply != nil {
			updates["auto_reply_enabled"] = *autoReply
			settings.AutoReplyEnabled = *autoReply
		}
		if err := tx.Model(&models.AutomationSettings{}).
			Where("channel_id = ?", channelID).
			Updates(updates).Error; err != nil {
			return err
		}
		result = &settings
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "settings.toggle", Err: err}
	}
	return result, nil
}

// IncrementCounters bumps the usage counters with atomic SQL increments so
// concurrent orchestrations never lose updates.
func (s *SettingsService) IncrementCounters(ctx context.Context, channelID uint, processed, autoReplied bool) error {
	if !processed && !autoReplied {
		return nil
	}
	updates := map[string]interface{}{}
	if processed {
		updates["total_processed"] = gorm.Expr("total_processed + 1")
	}
	if autoReplied {
		updates["total_auto_replied"] = gorm.Expr("total_auto_replied + 1")
	}
	err := s.db.WithContext(ctx).Model(&models.AutomationSettings{}).
		Where("channel_id = ?", channelID).
		Updates(updates).Error
	if err != nil {
		return &StorageError{Op: "settings.counters", Err: err}
	}
	return nil
}

func applySettingsUpdate(settings *models.AutomationSettings, req *SettingsUpdateRequest) {
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.AutoReplyEnabled != nil {
		settings.AutoReplyEnabled = *req.AutoReplyEnabled
	}
	if req.Language != nil {
		settings.Language = *req.Language
	}
	if req.Tone != nil {
		settings.Tone = *req.Tone
	}
	if req.ResponseDelaySeconds != nil {
		settings.ResponseDelaySeconds = *req.ResponseDelaySeconds
	}
	if req.SystemPrompt != nil {
		settings.SystemPrompt = *req.SystemPrompt
	}
	if req.ContextWindow != nil {
		settings.ContextWindow = *req.ContextWindow
	}
	if req.MaxResponseLength != nil {
		settings.MaxResponseLength = *req.MaxResponseLength
	}
	if req.CategoryResponses != nil {
		settings.CategoryResponses = req.CategoryResponses
	}
	if req.KeywordRules != nil {
		settings.KeywordRules = req.KeywordRules
	}
	if req.BlacklistedPhrases != nil {
		settings.BlacklistedPhrases = req.BlacklistedPhrases
	}
	if req.OperatingHours != nil {
		settings.OperatingHours = *req.OperatingHours
	}
	if req.OutOfOfficeMessage != nil {
		settings.OutOfOfficeMessage = *req.OutOfOfficeMessage
	}
}

var weekdayNames = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

func validateSettingsUpdate(req *SettingsUpdateRequest) error {
	if req.Language != nil {
		switch *req.Language {
		case models.LanguageGerman, models.LanguageEnglish, models.LanguageTurkish:
		default:
			return &ValidationError{Field: "language", Reason: fmt.Sprintf("unsupported language %q", *req.Language)}
		}
	}
	if req.Tone != nil {
		switch *req.Tone {
		case models.ToneFriendly, models.ToneProfessional, models.ToneCasual:
		default:
			return &ValidationError{Field: "tone", Reason: fmt.Sprintf("unsupported tone %q", *req.Tone)}
		}
	}
	if req.ResponseDelaySeconds != nil && (*req.ResponseDelaySeconds < 0 || *req.ResponseDelaySeconds > 3600) {
		return &ValidationError{Field: "response_delay_seconds", Reason: "must be between 0 and 3600"}
	}
	if req.SystemPrompt != nil && len(*req.SystemPrompt) > 2000 {
		return &ValidationError{Field: "system_prompt", Reason: "must not exceed 2000 characters"}
	}
	if req.ContextWindow != nil && (*req.ContextWindow < 1 || *req.ContextWindow > 20) {
		return &ValidationError{Field: "context_window", Reason: "must be between 1 and 20"}
	}
	if req.MaxResponseLength != nil && (*req.MaxResponseLength < 50 || *req.MaxResponseLength > 2000) {
		return &ValidationError{Field: "max_response_length", Reason: "must be between 50 and 2000"}
	}
	for i, rule := range req.KeywordRules {
		if rule.Keyword == "" {
			return &ValidationError{Field: fmt.Sprintf("keyword_rules[%d].keyword", i), Reason: "must not be empty"}
		}
		if rule.Response == "" {
			return &ValidationError{Field: fmt.Sprintf("keyword_rules[%d].response", i), Reason: "must not be empty"}
		}
	}
	if req.OperatingHours != nil {
		for day, window := range req.OperatingHours.PerDay {
			if !weekdayNames[day] {
				return &ValidationError{Field: "operating_hours.per_day", Reason: fmt.Sprintf("unknown weekday %q", day)}
			}
			if _, err := time.Parse("15:04", window.Start); err != nil {
				return &ValidationError{Field: "operating_hours." + day + ".start", Reason: "must be HH:MM"}
			}
			if _, err := time.Parse("15:04", window.End); err != nil {
				return &ValidationError{Field: "operating_hours." + day + ".end", Reason: "must be HH:MM"}
			}
		}
	}
	return nil
}
