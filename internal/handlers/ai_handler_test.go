package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SerOes/instaai-sub001/internal/models"
	"github.com/SerOes/instaai-sub001/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type aiTestEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	channel  models.Channel
	conv     *models.Conversation
	messages *services.MessageService
	settings *services.SettingsService
}

func newAIRouter(t *testing.T, provider services.TextProvider) *aiTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newHandlerTestDB(t)
	channel := seedHandlerChannel(t, db)
	conv := seedHandlerConversation(t, db, channel.ID)

	logger := quietLogger()
	settings := services.NewSettingsService(db, logger)
	convs := services.NewConversationService(db, logger)
	messages := services.NewMessageService(db, logger)
	classifier := services.NewClassifier(provider, logger)
	composer := services.NewComposer(provider, "stub-model", time.Second, logger)
	orchestrator := services.NewOrchestrator(db, settings, convs, messages, classifier, composer, nil, logger)

	handler := NewAIHandler(orchestrator, classifier, composer, settings, provider, logger)
	router := gin.New()
	RegisterAIRoutes(router.Group("/api/v1"), handler)

	return &aiTestEnv{
		router:   router,
		db:       db,
		channel:  channel,
		conv:     conv,
		messages: messages,
		settings: settings,
	}
}

func TestAIHandler_AnalyzeUsesKeywordRules(t *testing.T) {
	env := newAIRouter(t, &stubProvider{response: "irrelevant"})

	if _, err := env.settings.Upsert(context.Background(), env.channel.ID, &services.SettingsUpdateRequest{
		KeywordRules: []models.KeywordRule{
			{Keyword: "versand", Response: "2-3 Werktage.", Category: "shipping"},
		},
	}); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	w := postJSON(env.router, "PUT", "/api/v1/ai/analyze", map[string]interface{}{
		"channel_id": env.channel.ID,
		"text":       "Wann kommt mein Versand an?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var result services.ClassificationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if result.Category != "shipping" || result.Confidence != 1.0 {
		t.Fatalf("unexpected classification: %+v", result)
	}
}

func TestAIHandler_SuggestReturnsDrafts(t *testing.T) {
	env := newAIRouter(t, &stubProvider{response: `["Gerne!","Wir melden uns."]`})

	w := postJSON(env.router, "POST", "/api/v1/ai/suggest", map[string]interface{}{
		"channel_id": env.channel.ID,
		"message":    "habt ihr das auf lager?",
		"count":      2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var body struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.Suggestions) != 2 {
		t.Fatalf("suggestions = %d, want 2", len(body.Suggestions))
	}
}

func TestAIHandler_GenerateUnknownMessage(t *testing.T) {
	env := newAIRouter(t, &stubProvider{response: "ok"})

	w := postJSON(env.router, "POST", "/api/v1/ai/generate", map[string]interface{}{
		"message_id": 999,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAIHandler_GenerateAlreadyProcessed(t *testing.T) {
	env := newAIRouter(t, &stubProvider{response: "ok"})

	msg, err := env.messages.Append(context.Background(), &services.MessageCreateRequest{
		ConversationID: env.conv.ID,
		Direction:      models.DirectionInbound,
		Content:        "hallo",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	generated := models.AIStatusGenerated
	if _, err := env.messages.UpdateStatus(context.Background(), msg.ID, &services.MessageStatusPatch{
		AIStatus: &generated,
	}); err != nil {
		t.Fatalf("advance status: %v", err)
	}

	w := postJSON(env.router, "POST", "/api/v1/ai/generate", map[string]interface{}{
		"message_id": msg.ID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body SuccessResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Message != "message already processed" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAIHandler_Status(t *testing.T) {
	env := newAIRouter(t, &stubProvider{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/ai/status", nil)
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "available" {
		t.Fatalf("unexpected status body: %v", body)
	}
}

func TestAIHandler_ListRunsFiltersByOutcome(t *testing.T) {
	env := newAIRouter(t, &stubProvider{})

	rows := []models.AutomationRun{
		{ChannelID: env.channel.ID, ConversationID: env.conv.ID, MessageID: 1, Outcome: models.OutcomeReplied},
		{ChannelID: env.channel.ID, ConversationID: env.conv.ID, MessageID: 2, Outcome: models.OutcomeSkipped},
	}
	for i := range rows {
		if err := env.db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed run: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/automation/runs?outcome=skipped", nil)
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var page struct {
		Data  []models.AutomationRun `json:"data"`
		Total int64                  `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].Outcome != models.OutcomeSkipped {
		t.Fatalf("unexpected page: %+v", page)
	}
}
