package models

import "time"

// Supported reply languages and tones.
const (
	LanguageGerman  = "de"
	LanguageEnglish = "en"
	LanguageTurkish = "tr"

	ToneFriendly     = "friendly"
	ToneProfessional = "professional"
	ToneCasual       = "casual"
)

// KeywordRule maps a case-insensitive substring to an operator-authored
// canned reply. Rules are evaluated in slice order; the first match wins.
type KeywordRule struct {
	Keyword  string `json:"keyword"`
	Response string `json:"response"`
	Category string `json:"category,omitempty"`
}

// OperatingWindow is one weekday's answering window, "HH:MM" local time.
type OperatingWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// OperatingHours gates automated replies to configured windows.
// Weekday keys are lowercase English names ("monday".."sunday").
type OperatingHours struct {
	Enabled bool                       `json:"enabled"`
	PerDay  map[string]OperatingWindow `json:"per_day,omitempty"`
}

// AutomationSettings holds the per-channel automation configuration.
// Collection-valued fields are stored as JSON columns; the in-memory
// representation is always typed so no pipeline code re-parses strings.
type AutomationSettings struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	ChannelID uint `gorm:"uniqueIndex" json:"channel_id"`

	Enabled          bool `gorm:"default:false" json:"enabled"`
	AutoReplyEnabled bool `gorm:"default:false" json:"auto_reply_enabled"`

	Language string `gorm:"default:'de'" json:"language"`   // de, en, tr
	Tone     string `gorm:"default:'friendly'" json:"tone"` // friendly, professional, casual

	ResponseDelaySeconds int    `gorm:"default:0" json:"response_delay_seconds"` // [0,3600]
	SystemPrompt         string `gorm:"type:text" json:"system_prompt"`          // <= 2000 chars
	ContextWindow        int    `gorm:"default:5" json:"context_window"`         // [1,20]
	MaxResponseLength    int    `gorm:"default:500" json:"max_response_length"`  // [50,2000]

	CategoryResponses  map[string]string `gorm:"serializer:json;type:text" json:"category_responses"`
	KeywordRules       []KeywordRule     `gorm:"serializer:json;type:text" json:"keyword_rules"`
	BlacklistedPhrases []string          `gorm:"serializer:json;type:text" json:"blacklisted_phrases"`
	OperatingHours     OperatingHours    `gorm:"serializer:json;type:text" json:"operating_hours"`
	OutOfOfficeMessage string            `gorm:"type:text" json:"out_of_office_message"`

	TotalProcessed   int64 `gorm:"default:0" json:"total_processed"`
	TotalAutoReplied int64 `gorm:"default:0" json:"total_auto_replied"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcomes recorded per orchestration attempt.
const (
	OutcomeLoggedOnly = "logged_only"
	OutcomeReplied    = "replied"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// AutomationRun records one orchestration attempt for audit.
type AutomationRun struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ChannelID      uint      `gorm:"index" json:"channel_id"`
	ConversationID uint      `gorm:"index" json:"conversation_id"`
	MessageID      uint      `gorm:"index" json:"message_id"`
	Outcome        string    `gorm:"index" json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	Category       string    `json:"category,omitempty"`
	Confidence     float64   `json:"confidence"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
