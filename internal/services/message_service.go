package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/SerOes/instaai-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MessageService owns the append-only message log of each conversation.
type MessageService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewMessageService(db *gorm.DB, logger *logrus.Logger) *MessageService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MessageService{db: db, logger: logger}
}

// MessageCreateRequest appends one message to a conversation.
type MessageCreateRequest struct {
	ConversationID    uint       `json:"conversation_id" binding:"required"`
	ExternalMessageID string     `json:"external_message_id"`
	Direction         string     `json:"direction" binding:"required"`
	Type              string     `json:"type"`
	Content           string     `json:"content"`
	MediaURL          string     `json:"media_url"`
	SentAt            *time.Time `json:"sent_at"`
}

// MessageListRequest filters the log; results are returned chronological.
type MessageListRequest struct {
	ConversationID uint    `form:"conversation_id" binding:"required"`
	Direction      *string `form:"direction"`
	AIStatus       *string `form:"ai_status"`
	Page           int     `form:"page,default=1"`
	PageSize       int     `form:"page_size,default=50"`
}

// MessageStatusPatch moves a message through its status machines.
type MessageStatusPatch struct {
	AIStatus       *string  `json:"ai_status"`
	DeliveryStatus *string  `json:"delivery_status"`
	AIResponse     *string  `json:"ai_response"`
	AIConfidence   *float64 `json:"ai_confidence"`
	AIModel        *string  `json:"ai_model"`
}

var validTypes = map[string]bool{
	models.MessageTypeText:       true,
	models.MessageTypeImage:      true,
	models.MessageTypeVideo:      true,
	models.MessageTypeStoryReply: true,
	models.MessageTypeReelShare:  true,
}

// aiStatusRank orders the forward-only lifecycle. skipped is terminal and
// handled separately because it is only reachable from pending/generated.
var aiStatusRank = map[string]int{
	models.AIStatusPending:   0,
	models.AIStatusGenerated: 1,
	models.AIStatusApproved:  2,
	models.AIStatusSent:      3,
}

// ValidAITransition reports whether moving from -> to is legal. Forward
// jumps are allowed (auto-send goes generated -> sent without approval);
// any backward move is not.
func ValidAITransition(from, to string) bool {
	if from == to {
		return false
	}
	if to == models.AIStatusSkipped {
		return from == models.AIStatusPending || from == models.AIStatusGenerated
	}
	fromRank, okFrom := aiStatusRank[from]
	toRank, okTo := aiStatusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// Append writes one message and updates the owning conversation's activity
// in the same transaction, so a failed counter update never leaves a
// half-committed log entry.
func (s *MessageService) Append(ctx context.Context, req *MessageCreateRequest) (*models.DirectMessage, error) {
	if req == nil {
		return nil, &ValidationError{Field: "body", Reason: "request required"}
	}
	if req.Direction != models.DirectionInbound && req.Direction != models.DirectionOutbound {
		return nil, &ValidationError{Field: "direction", Reason: "must be inbound or outbound"}
	}
	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !validTypes[msgType] {
		return nil, &ValidationError{Field: "type", Reason: "unsupported message type " + req.Type}
	}
	if strings.TrimSpace(req.Content) == "" && req.MediaURL == "" {
		return nil, &ValidationError{Field: "content", Reason: "content or media_url required"}
	}

	now := time.Now()
	sentAt := now
	if req.SentAt != nil && !req.SentAt.IsZero() {
		sentAt = *req.SentAt
	}

	msg := models.DirectMessage{
		ConversationID:    req.ConversationID,
		ExternalMessageID: req.ExternalMessageID,
		Direction:         req.Direction,
		Type:              msgType,
		Content:           req.Content,
		MediaURL:          req.MediaURL,
		DeliveryStatus:    models.DeliveryReceived,
		SentAt:            sentAt,
	}
	if req.Direction == models.DirectionInbound {
		msg.AIStatus = models.AIStatusPending
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, req.ConversationID).Error; err != nil {
			return err
		}
		// Keep storage order monotonic within the thread.
		if conv.LastMessageAt != nil && msg.SentAt.Before(*conv.LastMessageAt) {
			msg.SentAt = now
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"last_message_at": msg.SentAt}
		if req.Direction == models.DirectionInbound {
			updates["unread_count"] = gorm.Expr("unread_count + 1")
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "conversation", ID: req.ConversationID}
	}
	if err != nil {
		return nil, &StorageError{Op: "message.append", Err: err}
	}
	return &msg, nil
}

// List pages through the log. Internally the query runs reverse
// chronological so "most recent N" is cheap, then reverses the page before
// returning it, so callers always see chronological order.
func (s *MessageService) List(ctx context.Context, req *MessageListRequest) ([]models.DirectMessage, int64, error) {
	if req == nil || req.ConversationID == 0 {
		return nil, 0, &ValidationError{Field: "conversation_id", Reason: "required"}
	}
	// Clamped in place so handlers paginate with the effective values.
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 200 {
		req.PageSize = 50
	}

	q := s.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("conversation_id = ?", req.ConversationID)
	if req.Direction != nil && *req.Direction != "" {
		q = q.Where("direction = ?", *req.Direction)
	}
	if req.AIStatus != nil && *req.AIStatus != "" {
		q = q.Where("ai_status = ?", *req.AIStatus)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, &StorageError{Op: "message.count", Err: err}
	}

	var messages []models.DirectMessage
	err := q.Order("sent_at DESC, id DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&messages).Error
	if err != nil {
		return nil, 0, &StorageError{Op: "message.list", Err: err}
	}
	reverseMessages(messages)
	return messages, total, nil
}

// RecentHistory returns the newest limit messages of a conversation in
// chronological order, always including the most recent entry.
func (s *MessageService) RecentHistory(ctx context.Context, conversationID uint, limit int) ([]models.DirectMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	var messages []models.DirectMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, &StorageError{Op: "message.history", Err: err}
	}
	reverseMessages(messages)
	return messages, nil
}

// Get loads one message by id.
func (s *MessageService) Get(ctx context.Context, id uint) (*models.DirectMessage, error) {
	var msg models.DirectMessage
	err := s.db.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "message", ID: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "message.get", Err: err}
	}
	return &msg, nil
}

// UpdateStatus applies a status patch, enforcing the forward-only aiStatus
// machine. Moving deliveryStatus to read from a non-read state decrements
// the conversation's unread counter, never below zero.
func (s *MessageService) UpdateStatus(ctx context.Context, id uint, patch *MessageStatusPatch) (*models.DirectMessage, error) {
	if patch == nil {
		return nil, &ValidationError{Field: "body", Reason: "request required"}
	}

	var result *models.DirectMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.DirectMessage
		if err := tx.First(&msg, id).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		now := time.Now()

		if patch.AIStatus != nil {
			if msg.Direction != models.DirectionInbound {
				return &ValidationError{Field: "ai_status", Reason: "only inbound messages carry an AI status"}
			}
			if !ValidAITransition(msg.AIStatus, *patch.AIStatus) {
				return &InvalidStateTransition{From: msg.AIStatus, To: *patch.AIStatus}
			}
			updates["ai_status"] = *patch.AIStatus
			msg.AIStatus = *patch.AIStatus
			if *patch.AIStatus == models.AIStatusSent {
				updates["replied_at"] = now
				msg.RepliedAt = &now
			}
		}
		if patch.AIResponse != nil {
			updates["ai_response"] = *patch.AIResponse
			msg.AIResponse = *patch.AIResponse
		}
		if patch.AIConfidence != nil {
			if *patch.AIConfidence < 0 || *patch.AIConfidence > 1 {
				return &ValidationError{Field: "ai_confidence", Reason: "must be between 0 and 1"}
			}
			updates["ai_confidence"] = *patch.AIConfidence
			msg.AIConfidence = patch.AIConfidence
		}
		if patch.AIModel != nil {
			updates["ai_model"] = *patch.AIModel
			msg.AIModel = *patch.AIModel
		}
		if patch.DeliveryStatus != nil {
			switch *patch.DeliveryStatus {
			case models.DeliveryReceived, models.DeliveryRead, models.DeliveryReplied, models.DeliveryPendingReply:
			default:
				return &ValidationError{Field: "delivery_status", Reason: "unknown delivery status " + *patch.DeliveryStatus}
			}
			if *patch.DeliveryStatus == models.DeliveryRead && msg.DeliveryStatus != models.DeliveryRead {
				updates["read_at"] = now
				msg.ReadAt = &now
				err := tx.Model(&models.Conversation{}).
					Where("id = ?", msg.ConversationID).
					Update("unread_count", gorm.Expr("CASE WHEN unread_count > 0 THEN unread_count - 1 ELSE 0 END")).Error
				if err != nil {
					return err
				}
			}
			updates["delivery_status"] = *patch.DeliveryStatus
			msg.DeliveryStatus = *patch.DeliveryStatus
		}

		if len(updates) == 0 {
			return &ValidationError{Field: "body", Reason: "no fields to update"}
		}
		if err := tx.Model(&models.DirectMessage{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		result = &msg
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "message", ID: id}
	}
	if err != nil {
		var ve *ValidationError
		var ist *InvalidStateTransition
		if errors.As(err, &ve) || errors.As(err, &ist) {
			return nil, err
		}
		return nil, &StorageError{Op: "message.update_status", Err: err}
	}
	return result, nil
}

// SetDeliveryError records a failed platform send as a side annotation.
// The aiStatus stays where it is; operators see the failure without the
// state machine moving backward.
func (s *MessageService) SetDeliveryError(ctx context.Context, id uint, reason string) error {
	result := s.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("id = ?", id).
		Update("delivery_error", reason)
	if result.Error != nil {
		return &StorageError{Op: "message.delivery_error", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "message", ID: id}
	}
	return nil
}

func reverseMessages(messages []models.DirectMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
