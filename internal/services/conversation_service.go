package services

import (
	"context"
	"errors"
	"strings"

	"github.com/SerOes/instaai-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ConversationService owns the one-thread-per-participant store.
type ConversationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewConversationService(db *gorm.DB, logger *logrus.Logger) *ConversationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConversationService{db: db, logger: logger}
}

// Participant identifies the remote side of a thread.
type Participant struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name"`
	Handle     string `json:"handle"`
	AvatarURL  string `json:"avatar_url"`
}

// ConversationListRequest filters and paginates the conversation list.
type ConversationListRequest struct {
	ChannelID *uint `form:"channel_id"`
	IsActive  *bool `form:"is_active"`
	Page      int   `form:"page,default=1"`
	PageSize  int   `form:"page_size,default=20"`
}

// FindOrCreate returns the conversation for (channelID, externalThreadID),
// creating it on first contact. The unique index on the pair guarantees a
// concurrent double-create converges to one row; the loser of the race
// re-reads and reports created=false.
func (s *ConversationService) FindOrCreate(ctx context.Context, channelID uint, externalThreadID string, p Participant) (*models.Conversation, bool, error) {
	externalThreadID = strings.TrimSpace(externalThreadID)
	if externalThreadID == "" {
		return nil, false, &ValidationError{Field: "external_thread_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.ExternalID) == "" {
		return nil, false, &ValidationError{Field: "participant.external_id", Reason: "must not be empty"}
	}

	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND external_thread_id = ?", channelID, externalThreadID).
		First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, &StorageError{Op: "conversation.find", Err: err}
	}

	conv = models.Conversation{
		ChannelID:         channelID,
		ExternalThreadID:  externalThreadID,
		ParticipantID:     p.ExternalID,
		ParticipantName:   p.Name,
		ParticipantHandle: p.Handle,
		ParticipantAvatar: p.AvatarURL,
		IsActive:          true,
		IsAutomated:       true,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		// Lost the creation race: the unique constraint fired, so the row
		// must exist now. Retry the read once.
		var existing models.Conversation
		if findErr := s.db.WithContext(ctx).
			Where("channel_id = ? AND external_thread_id = ?", channelID, externalThreadID).
			First(&existing).Error; findErr == nil {
			return &existing, false, nil
		}
		return nil, false, &StorageError{Op: "conversation.create", Err: err}
	}
	return &conv, true, nil
}

// List returns conversations ordered by most recent activity.
func (s *ConversationService) List(ctx context.Context, req *ConversationListRequest) ([]models.Conversation, int64, error) {
	if req == nil {
		req = &ConversationListRequest{}
	}
	// Clamped in place so handlers paginate with the effective values.
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	if req.ChannelID != nil {
		q = q.Where("channel_id = ?", *req.ChannelID)
	}
	if req.IsActive != nil {
		q = q.Where("is_active = ?", *req.IsActive)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, &StorageError{Op: "conversation.count", Err: err}
	}

	var conversations []models.Conversation
	err := q.Order("last_message_at DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&conversations).Error
	if err != nil {
		return nil, 0, &StorageError{Op: "conversation.list", Err: err}
	}
	return conversations, total, nil
}

// Get loads one conversation by id.
func (s *ConversationService) Get(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return nil, &StorageError{Op: "conversation.get", Err: err}
	}
	return &conv, nil
}

// MarkRead acknowledges all unread messages in the thread. Idempotent:
// repeated calls leave the counter at zero.
func (s *ConversationService) MarkRead(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("unread_count", 0)
	if result.Error != nil {
		return &StorageError{Op: "conversation.mark_read", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "conversation", ID: id}
	}
	return nil
}

// SetAutomated flips per-thread automation permission.
func (s *ConversationService) SetAutomated(ctx context.Context, id uint, automated bool) error {
	result := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("is_automated", automated)
	if result.Error != nil {
		return &StorageError{Op: "conversation.set_automated", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: "conversation", ID: id}
	}
	return nil
}

// Delete removes the conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, id).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.DirectMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conv).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return &StorageError{Op: "conversation.delete", Err: err}
	}
	return nil
}
