package handlers

import (
	"context"
	"strings"
	"testing"

	"github.com/SerOes/instaai-sub001/internal/models"
	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:handlers_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Account{}, &models.Channel{}, &models.Conversation{},
		&models.DirectMessage{}, &models.AutomationSettings{}, &models.AutomationRun{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func seedHandlerChannel(t *testing.T, db *gorm.DB) models.Channel {
	t.Helper()
	ch := models.Channel{
		OwnerID:    1,
		ExternalID: "ig_" + strings.ReplaceAll(t.Name(), "/", "_"),
		Handle:     "acme.store",
		Name:       "Acme Store",
		Active:     true,
	}
	if err := db.Create(&ch).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	return ch
}

func seedHandlerConversation(t *testing.T, db *gorm.DB, channelID uint) *models.Conversation {
	t.Helper()
	svc := services.NewConversationService(db, quietLogger())
	conv, _, err := svc.FindOrCreate(context.Background(), channelID,
		"thread_"+strings.ReplaceAll(t.Name(), "/", "_"),
		services.Participant{ExternalID: "user_7", Name: "Alex", Handle: "alex.b"})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

// stubProvider scripts the text provider for handler tests.
type stubProvider struct {
	response string
	err      error
}

func (s *stubProvider) Generate(ctx context.Context, systemInstruction string, turns []services.ConversationTurn, opts services.GenerateOptions) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubProvider) Status(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"status": "available", "model": "stub"}
}

var _ services.TextProvider = (*stubProvider)(nil)
