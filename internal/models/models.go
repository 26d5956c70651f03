package models

import (
	"time"

	"gorm.io/gorm"
)

// Account is an operator login. Authorization is driven by the Role
// attribute only; there is no special-cased identity anywhere.
type Account struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'operator'" json:"role"` // operator, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Channels []Channel `gorm:"foreignKey:OwnerID" json:"channels,omitempty"`
}

// Channel is a connected messaging account (e.g. an Instagram business
// profile) that automation settings attach to.
type Channel struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	OwnerID    uint           `gorm:"index" json:"owner_id"`
	ExternalID string         `gorm:"unique;not null" json:"external_id"`
	Handle     string         `json:"handle"`
	Name       string         `json:"name"`
	Active     bool           `gorm:"default:true" json:"active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	Owner         Account        `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Conversations []Conversation `gorm:"foreignKey:ChannelID" json:"conversations,omitempty"`
}

// Message direction.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message content types.
const (
	MessageTypeText       = "text"
	MessageTypeImage      = "image"
	MessageTypeVideo      = "video"
	MessageTypeStoryReply = "story_reply"
	MessageTypeReelShare  = "reel_share"
)

// Delivery status of a message on the platform.
const (
	DeliveryReceived     = "received"
	DeliveryRead         = "read"
	DeliveryReplied      = "replied"
	DeliveryPendingReply = "pending_reply"
)

// AI processing status of an inbound message. Forward-only:
// pending -> generated -> approved -> sent, with skipped reachable
// from pending or generated.
const (
	AIStatusPending   = "pending"
	AIStatusGenerated = "generated"
	AIStatusApproved  = "approved"
	AIStatusSent      = "sent"
	AIStatusSkipped   = "skipped"
)

// Conversation is one thread between a channel and a remote participant.
// At most one row exists per (channel_id, external_thread_id).
type Conversation struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	ChannelID        uint   `gorm:"uniqueIndex:idx_channel_thread,priority:1" json:"channel_id"`
	ExternalThreadID string `gorm:"uniqueIndex:idx_channel_thread,priority:2;not null" json:"external_thread_id"`

	ParticipantID     string `gorm:"not null" json:"participant_id"`
	ParticipantName   string `json:"participant_name"`
	ParticipantHandle string `json:"participant_handle"`
	ParticipantAvatar string `json:"participant_avatar"`

	IsActive      bool       `gorm:"default:true" json:"is_active"`
	IsAutomated   bool       `gorm:"default:true" json:"is_automated"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`
	UnreadCount   int        `gorm:"default:0" json:"unread_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Channel  Channel         `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
	Messages []DirectMessage `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// DirectMessage is one entry in a conversation's append-only log.
// AIStatus is set only on inbound messages; outbound rows keep it empty.
type DirectMessage struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	ConversationID    uint   `gorm:"index" json:"conversation_id"`
	ExternalMessageID string `gorm:"index" json:"external_message_id"`

	Direction string `gorm:"not null;index" json:"direction"` // inbound, outbound
	Type      string `gorm:"default:'text'" json:"type"`      // text, image, video, story_reply, reel_share
	Content   string `gorm:"type:text" json:"content"`
	MediaURL  string `json:"media_url"`

	DeliveryStatus string   `gorm:"default:'received'" json:"delivery_status"`
	AIStatus       string   `gorm:"index" json:"ai_status,omitempty"`
	AIResponse     string   `gorm:"type:text" json:"ai_response,omitempty"`
	AIConfidence   *float64 `json:"ai_confidence,omitempty"`
	AIModel        string   `json:"ai_model,omitempty"`
	// DeliveryError is a side annotation written when the platform send
	// fails after the reply was generated. AIStatus never moves backward.
	DeliveryError string `gorm:"type:text" json:"delivery_error,omitempty"`

	SentAt    time.Time  `gorm:"index" json:"sent_at"`
	ReadAt    *time.Time `json:"read_at"`
	RepliedAt *time.Time `json:"replied_at"`
	CreatedAt time.Time  `json:"created_at"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}
