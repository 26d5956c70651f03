package services

import (
	"context"
	"sync"
	"time"

	"github.com/SerOes/instaai-sub001/internal/metrics"
	"github.com/SerOes/instaai-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deliverer sends a composed reply out through the messaging platform.
type Deliverer interface {
	SendDirectMessage(ctx context.Context, channelExternalID, threadExternalID, text string) error
}

// Orchestrator runs the automation pipeline for inbound messages:
// classify, compose, persist the result, and optionally deliver.
// Processing within one conversation is serialized; conversations run
// independently of each other.
type Orchestrator struct {
	db            *gorm.DB
	settings      *SettingsService
	conversations *ConversationService
	messages      *MessageService
	classifier    *Classifier
	composer      *Composer
	deliverer     Deliverer
	logger        *logrus.Logger

	mu    sync.Mutex
	locks map[uint]*sync.Mutex

	deliveries sync.WaitGroup
}

func NewOrchestrator(
	db *gorm.DB,
	settings *SettingsService,
	conversations *ConversationService,
	messages *MessageService,
	classifier *Classifier,
	composer *Composer,
	deliverer Deliverer,
	logger *logrus.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		db:            db,
		settings:      settings,
		conversations: conversations,
		messages:      messages,
		classifier:    classifier,
		composer:      composer,
		deliverer:     deliverer,
		logger:        logger,
		locks:         make(map[uint]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one conversation's pipeline runs.
func (o *Orchestrator) lockFor(conversationID uint) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[conversationID] = lock
	}
	return lock
}

// ProcessInbound runs the full pipeline for one inbound message and
// records an AutomationRun for the attempt. Re-triggering a message whose
// AI status already moved past pending is a no-op.
func (o *Orchestrator) ProcessInbound(ctx context.Context, messageID uint) (*models.AutomationRun, error) {
	msg, err := o.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Direction != models.DirectionInbound {
		return nil, &ValidationError{Field: "message_id", Reason: "automation only runs on inbound messages"}
	}

	var conv models.Conversation
	if err := o.db.WithContext(ctx).First(&conv, msg.ConversationID).Error; err != nil {
		return nil, &StorageError{Op: "orchestrator.load_conversation", Err: err}
	}

	lock := o.lockFor(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so concurrent triggers for the same message
	// see each other's status writes.
	msg, err = o.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AIStatus != models.AIStatusPending {
		o.logger.Debugf("orchestrator: message %d already in status %s, nothing to do", msg.ID, msg.AIStatus)
		return nil, nil
	}

	start := time.Now()

	settings, err := o.settings.Get(ctx, conv.ChannelID)
	if err != nil {
		return nil, err
	}

	var channel models.Channel
	if err := o.db.WithContext(ctx).First(&channel, conv.ChannelID).Error; err != nil {
		return nil, &StorageError{Op: "orchestrator.load_channel", Err: err}
	}

	run := &models.AutomationRun{
		ChannelID:      conv.ChannelID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}

	// Auto-reply off means the pipeline never starts; the message stays
	// pending and no classifier or composer call happens.
	if !settings.Enabled || !settings.AutoReplyEnabled || !conv.IsAutomated {
		run.Outcome = models.OutcomeLoggedOnly
		switch {
		case !settings.Enabled:
			run.Reason = "automation disabled for channel"
		case !settings.AutoReplyEnabled:
			run.Reason = "auto-reply disabled for channel"
		default:
			run.Reason = "conversation excluded from automation"
		}
		return o.finishRun(ctx, run, start)
	}

	metrics.IncProcessed()

	cls := o.classifier.Classify(ctx, msg.Content, settings)
	run.Category = cls.Category

	history, err := o.messages.RecentHistory(ctx, conv.ID, settings.ContextWindow)
	if err != nil {
		o.logger.Warnf("orchestrator: history load failed for conversation %d: %v", conv.ID, err)
		history = nil
	}

	result := o.composer.Compose(ctx, ComposeInput{
		Message:        msg,
		History:        history,
		Settings:       settings,
		Classification: cls,
		Brand:          channel.Name,
	})
	run.Confidence = result.Confidence

	if result.Blocked {
		skipped := models.AIStatusSkipped
		if _, err := o.messages.UpdateStatus(ctx, msg.ID, &MessageStatusPatch{AIStatus: &skipped}); err != nil {
			run.Outcome = models.OutcomeFailed
			run.Reason = err.Error()
			metrics.IncFailed()
			return o.finishRun(ctx, run, start)
		}
		if err := o.settings.IncrementCounters(ctx, conv.ChannelID, true, false); err != nil {
			o.logger.Warnf("orchestrator: counter update failed for channel %d: %v", conv.ChannelID, err)
		}
		metrics.IncSkipped()
		run.Outcome = models.OutcomeSkipped
		run.Reason = "message matched blacklisted phrase"
		return o.finishRun(ctx, run, start)
	}

	generated := models.AIStatusGenerated
	patch := &MessageStatusPatch{
		AIStatus:     &generated,
		AIResponse:   &result.Text,
		AIConfidence: &result.Confidence,
	}
	if result.Model != "" {
		patch.AIModel = &result.Model
	}
	if _, err := o.messages.UpdateStatus(ctx, msg.ID, patch); err != nil {
		run.Outcome = models.OutcomeFailed
		run.Reason = err.Error()
		metrics.IncFailed()
		return o.finishRun(ctx, run, start)
	}

	if err := o.settings.IncrementCounters(ctx, conv.ChannelID, true, true); err != nil {
		o.logger.Warnf("orchestrator: counter update failed for channel %d: %v", conv.ChannelID, err)
	}
	metrics.IncReplied()

	delay := time.Duration(settings.ResponseDelaySeconds) * time.Second
	o.scheduleDelivery(channel, conv, msg.ID, result.Text, delay)

	run.Outcome = models.OutcomeReplied
	return o.finishRun(ctx, run, start)
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.AutomationRun, start time.Time) (*models.AutomationRun, error) {
	run.DurationMs = time.Since(start).Milliseconds()
	if err := o.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, &StorageError{Op: "orchestrator.record_run", Err: err}
	}
	o.logger.WithFields(logrus.Fields{
		"message_id":      run.MessageID,
		"conversation_id": run.ConversationID,
		"outcome":         run.Outcome,
		"category":        run.Category,
		"duration_ms":     run.DurationMs,
	}).Info("automation run finished")
	return run, nil
}

// scheduleDelivery hands the reply to the platform after the configured
// delay. Runs outside the conversation lock so a long delay never blocks
// the pipeline.
func (o *Orchestrator) scheduleDelivery(channel models.Channel, conv models.Conversation, messageID uint, text string, delay time.Duration) {
	o.deliveries.Add(1)
	time.AfterFunc(delay, func() {
		defer o.deliveries.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		o.deliver(ctx, channel, conv, messageID, text)
	})
}

func (o *Orchestrator) deliver(ctx context.Context, channel models.Channel, conv models.Conversation, messageID uint, text string) {
	if o.deliverer == nil {
		o.logger.Warn("orchestrator: no deliverer configured, reply stays in generated state")
		return
	}

	if err := o.deliverer.SendDirectMessage(ctx, channel.ExternalID, conv.ExternalThreadID, text); err != nil {
		metrics.IncFailed()
		o.logger.WithFields(logrus.Fields{
			"message_id":      messageID,
			"conversation_id": conv.ID,
		}).Warnf("delivery failed: %v", err)
		if derr := o.messages.SetDeliveryError(ctx, messageID, err.Error()); derr != nil {
			o.logger.Errorf("orchestrator: recording delivery error failed: %v", derr)
		}
		return
	}

	sent := models.AIStatusSent
	replied := models.DeliveryReplied
	if _, err := o.messages.UpdateStatus(ctx, messageID, &MessageStatusPatch{
		AIStatus:       &sent,
		DeliveryStatus: &replied,
	}); err != nil {
		o.logger.Errorf("orchestrator: marking message %d sent failed: %v", messageID, err)
		return
	}

	if _, err := o.messages.Append(ctx, &MessageCreateRequest{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		Type:           models.MessageTypeText,
		Content:        text,
	}); err != nil {
		o.logger.Errorf("orchestrator: logging outbound reply for conversation %d failed: %v", conv.ID, err)
	}
}

// RunListRequest filters the automation audit log.
type RunListRequest struct {
	ChannelID *uint   `form:"channel_id"`
	Outcome   *string `form:"outcome"`
	Page      int     `form:"page,default=1"`
	PageSize  int     `form:"page_size,default=50"`
}

// ListRuns returns recorded automation attempts, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, req *RunListRequest) ([]models.AutomationRun, int64, error) {
	if req == nil {
		req = &RunListRequest{Page: 1, PageSize: 50}
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 50
	}

	query := o.db.WithContext(ctx).Model(&models.AutomationRun{})
	if req.ChannelID != nil {
		query = query.Where("channel_id = ?", *req.ChannelID)
	}
	if req.Outcome != nil {
		query = query.Where("outcome = ?", *req.Outcome)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, &StorageError{Op: "runs.count", Err: err}
	}

	var runs []models.AutomationRun
	err := query.Order("created_at DESC, id DESC").
		Offset((req.Page - 1) * req.PageSize).
		Limit(req.PageSize).
		Find(&runs).Error
	if err != nil {
		return nil, 0, &StorageError{Op: "runs.list", Err: err}
	}
	return runs, total, nil
}

// Shutdown waits for in-flight delayed deliveries, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
