package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/SerOes/instaai-sub001/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
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

func seedChannel(t *testing.T, db *gorm.DB) models.Channel {
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

func seedConversation(t *testing.T, db *gorm.DB, channelID uint) *models.Conversation {
	t.Helper()
	svc := NewConversationService(db, nil)
	conv, _, err := svc.FindOrCreate(context.Background(), channelID, "thread_"+strings.ReplaceAll(t.Name(), "/", "_"), Participant{
		ExternalID: "user_42",
		Name:       "Jamie",
		Handle:     "jamie.k",
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

// fakeProvider scripts the text provider for classifier/composer tests.
type fakeProvider struct {
	mu              sync.Mutex
	response        string
	err             error
	calls           int
	lastInstruction string
	lastTurns       []ConversationTurn
	lastOpts        GenerateOptions
}

func (f *fakeProvider) Generate(ctx context.Context, systemInstruction string, turns []ConversationTurn, opts GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastInstruction = systemInstruction
	f.lastTurns = append([]ConversationTurn(nil), turns...)
	f.lastOpts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeProvider) Status(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"status": "fake"}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ TextProvider = (*fakeProvider)(nil)
