package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SerOes/instaai-sub001/internal/models"
)

type deliveryCall struct {
	channel string
	thread  string
	text    string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	err   error
	calls []deliveryCall
}

func (f *fakeDeliverer) SendDirectMessage(ctx context.Context, channelExternalID, threadExternalID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deliveryCall{channel: channelExternalID, thread: threadExternalID, text: text})
	return f.err
}

func (f *fakeDeliverer) callList() []deliveryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deliveryCall(nil), f.calls...)
}

type orchestratorEnv struct {
	orchestrator *Orchestrator
	settings     *SettingsService
	messages     *MessageService
	convs        *ConversationService
	provider     *fakeProvider
	deliverer    *fakeDeliverer
	channel      models.Channel
	conv         *models.Conversation
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()
	db := newTestDB(t)
	channel := seedChannel(t, db)
	conv := seedConversation(t, db, channel.ID)

	provider := &fakeProvider{response: "Hallo!"}
	deliverer := &fakeDeliverer{}
	settings := NewSettingsService(db, nil)
	convs := NewConversationService(db, nil)
	messages := NewMessageService(db, nil)
	classifier := NewClassifier(provider, nil)
	composer := NewComposer(provider, "gpt-4o-mini", 5*time.Second, nil)

	return &orchestratorEnv{
		orchestrator: NewOrchestrator(db, settings, convs, messages, classifier, composer, deliverer, nil),
		settings:     settings,
		messages:     messages,
		convs:        convs,
		provider:     provider,
		deliverer:    deliverer,
		channel:      channel,
		conv:         conv,
	}
}

func (e *orchestratorEnv) appendInbound(t *testing.T, content string) *models.DirectMessage {
	t.Helper()
	msg, err := e.messages.Append(context.Background(), &MessageCreateRequest{
		ConversationID: e.conv.ID,
		Direction:      models.DirectionInbound,
		Type:           models.MessageTypeText,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("append inbound: %v", err)
	}
	return msg
}

// configure enables automation with a deterministic keyword rule so tests
// never depend on generative output.
func (e *orchestratorEnv) configure(t *testing.T, req *SettingsUpdateRequest) {
	t.Helper()
	if _, err := e.settings.Upsert(context.Background(), e.channel.ID, req); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}
}

func hoursRule() []models.KeywordRule {
	return []models.KeywordRule{
		{Keyword: "öffnungszeiten", Response: "Wir sind Mo-Fr von 9 bis 17 Uhr erreichbar.", Category: "hours"},
	}
}

func TestOrchestrator_DisabledChannelLogsOnly(t *testing.T) {
	env := newOrchestratorEnv(t)
	msg := env.appendInbound(t, "hallo")

	run, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if run.Outcome != models.OutcomeLoggedOnly {
		t.Fatalf("outcome = %s, want %s", run.Outcome, models.OutcomeLoggedOnly)
	}
	if run.Reason != "automation disabled for channel" {
		t.Fatalf("unexpected reason %q", run.Reason)
	}

	got, err := env.messages.Get(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.AIStatus != models.AIStatusPending {
		t.Fatalf("aiStatus = %s, logged-only run must not touch the message", got.AIStatus)
	}
	if env.provider.callCount() != 0 {
		t.Fatal("disabled channel must not reach the provider")
	}
}

func TestOrchestrator_ExcludedConversationLogsOnly(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.configure(t, &SettingsUpdateRequest{Enabled: boolPtr(true)})
	if err := env.convs.SetAutomated(context.Background(), env.conv.ID, false); err != nil {
		t.Fatalf("set automated: %v", err)
	}
	msg := env.appendInbound(t, "hallo")

	run, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if run.Outcome != models.OutcomeLoggedOnly || run.Reason != "conversation excluded from automation" {
		t.Fatalf("unexpected run: %+v", run)
	}

	stored, err := env.settings.Get(context.Background(), env.channel.ID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if stored.TotalProcessed != 0 {
		t.Fatalf("processed counter = %d, logged-only runs must not count", stored.TotalProcessed)
	}
}

func TestOrchestrator_BlockedMessageSkipped(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.configure(t, &SettingsUpdateRequest{
		Enabled:            boolPtr(true),
		AutoReplyEnabled:   boolPtr(true),
		BlacklistedPhrases: []string{"gewinnspiel"},
	})
	msg := env.appendInbound(t, "Gibt es ein Gewinnspiel?")

	run, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if run.Outcome != models.OutcomeSkipped {
		t.Fatalf("outcome = %s, want %s", run.Outcome, models.OutcomeSkipped)
	}

	got, _ := env.messages.Get(context.Background(), msg.ID)
	if got.AIStatus != models.AIStatusSkipped {
		t.Fatalf("aiStatus = %s, want %s", got.AIStatus, models.AIStatusSkipped)
	}

	stored, _ := env.settings.Get(context.Background(), env.channel.ID)
	if stored.TotalProcessed != 1 || stored.TotalAutoReplied != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", stored.TotalProcessed, stored.TotalAutoReplied)
	}
	if len(env.deliverer.callList()) != 0 {
		t.Fatal("blocked message must never be delivered")
	}
}

func TestOrchestrator_AutoReplyDisabledLogsOnly(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.configure(t, &SettingsUpdateRequest{
		Enabled:          boolPtr(true),
		AutoReplyEnabled: boolPtr(false),
		KeywordRules:     hoursRule(),
	})
	msg := env.appendInbound(t, "Wie sind eure Öffnungszeiten?")

	run, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if run.Outcome != models.OutcomeLoggedOnly {
		t.Fatalf("outcome = %s, want %s", run.Outcome, models.OutcomeLoggedOnly)
	}
	if run.Reason != "auto-reply disabled for channel" {
		t.Fatalf("unexpected reason %q", run.Reason)
	}

	got, _ := env.messages.Get(context.Background(), msg.ID)
	if got.AIStatus != models.AIStatusPending {
		t.Fatalf("aiStatus = %s, message must stay pending while auto-reply is off", got.AIStatus)
	}
	if got.AIResponse != "" {
		t.Fatalf("aiResponse = %q, nothing may be composed while auto-reply is off", got.AIResponse)
	}
	if env.provider.callCount() != 0 {
		t.Fatal("composer must never run while auto-reply is off")
	}

	stored, _ := env.settings.Get(context.Background(), env.channel.ID)
	if stored.TotalProcessed != 0 || stored.TotalAutoReplied != 0 {
		t.Fatalf("counters = %d/%d, logged-only runs must not count", stored.TotalProcessed, stored.TotalAutoReplied)
	}
	if len(env.deliverer.callList()) != 0 {
		t.Fatal("nothing may be delivered while auto-reply is off")
	}
}

func TestOrchestrator_AutoReplyDeliversAndLogsOutbound(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.configure(t, &SettingsUpdateRequest{
		Enabled:              boolPtr(true),
		AutoReplyEnabled:     boolPtr(true),
		ResponseDelaySeconds: intPtr(0),
		KeywordRules:         hoursRule(),
	})
	msg := env.appendInbound(t, "öffnungszeiten?")

	run, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if run.Outcome != models.OutcomeReplied {
		t.Fatalf("outcome = %s, want %s", run.Outcome, models.OutcomeReplied)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.orchestrator.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	calls := env.deliverer.callList()
	if len(calls) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(calls))
	}
	if calls[0].channel != env.channel.ExternalID || calls[0].thread != env.conv.ExternalThreadID {
		t.Fatalf("delivery addressed wrong: %+v", calls[0])
	}
	if calls[0].text != "Wir sind Mo-Fr von 9 bis 17 Uhr erreichbar." {
		t.Fatalf("delivered text = %q", calls[0].text)
	}

	got, _ := env.messages.Get(context.Background(), msg.ID)
	if got.AIStatus != models.AIStatusSent {
		t.Fatalf("aiStatus = %s, want %s", got.AIStatus, models.AIStatusSent)
	}
	if got.DeliveryStatus != models.DeliveryReplied {
		t.Fatalf("deliveryStatus = %s, want %s", got.DeliveryStatus, models.DeliveryReplied)
	}

	history, err := env.messages.RecentHistory(context.Background(), env.conv.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("messages = %d, want inbound plus logged reply", len(history))
	}
	reply := history[len(history)-1]
	if reply.Direction != models.DirectionOutbound || reply.Content != calls[0].text {
		t.Fatalf("unexpected logged reply: %+v", reply)
	}

	stored, _ := env.settings.Get(context.Background(), env.channel.ID)
	if stored.TotalProcessed != 1 || stored.TotalAutoReplied != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", stored.TotalProcessed, stored.TotalAutoReplied)
	}
}

func TestOrchestrator_DeliveryFailureKeepsGeneratedState(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.deliverer.err = errors.New("platform unavailable")
	env.configure(t, &SettingsUpdateRequest{
		Enabled:              boolPtr(true),
		AutoReplyEnabled:     boolPtr(true),
		ResponseDelaySeconds: intPtr(0),
		KeywordRules:         hoursRule(),
	})
	msg := env.appendInbound(t, "öffnungszeiten?")

	run, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if run.Outcome != models.OutcomeReplied {
		t.Fatalf("outcome = %s, the run is recorded before delivery", run.Outcome)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.orchestrator.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	got, _ := env.messages.Get(context.Background(), msg.ID)
	if got.AIStatus != models.AIStatusGenerated {
		t.Fatalf("aiStatus = %s, failed delivery must not advance the state", got.AIStatus)
	}
	if got.DeliveryError == "" {
		t.Fatal("delivery error not recorded")
	}

	history, _ := env.messages.RecentHistory(context.Background(), env.conv.ID, 10)
	if len(history) != 1 {
		t.Fatalf("messages = %d, failed delivery must not log a reply", len(history))
	}
}

func TestOrchestrator_Idempotent(t *testing.T) {
	env := newOrchestratorEnv(t)
	env.configure(t, &SettingsUpdateRequest{
		Enabled:              boolPtr(true),
		AutoReplyEnabled:     boolPtr(true),
		ResponseDelaySeconds: intPtr(0),
		KeywordRules:         hoursRule(),
	})
	msg := env.appendInbound(t, "öffnungszeiten?")

	first, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if first == nil {
		t.Fatal("first run must be recorded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.orchestrator.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	second, err := env.orchestrator.ProcessInbound(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second != nil {
		t.Fatalf("retrigger must be a no-op, got %+v", second)
	}

	runs, total, err := env.orchestrator.ListRuns(context.Background(), nil)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if total != 1 || len(runs) != 1 {
		t.Fatalf("runs = %d/%d, want exactly one", len(runs), total)
	}

	stored, _ := env.settings.Get(context.Background(), env.channel.ID)
	if stored.TotalProcessed != 1 {
		t.Fatalf("processed counter = %d, retrigger must not count again", stored.TotalProcessed)
	}
}

func TestOrchestrator_RejectsOutboundMessages(t *testing.T) {
	env := newOrchestratorEnv(t)
	out, err := env.messages.Append(context.Background(), &MessageCreateRequest{
		ConversationID: env.conv.ID,
		Direction:      models.DirectionOutbound,
		Type:           models.MessageTypeText,
		Content:        "already answered",
	})
	if err != nil {
		t.Fatalf("append outbound: %v", err)
	}

	_, err = env.orchestrator.ProcessInbound(context.Background(), out.ID)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOrchestrator_ListRunsFiltering(t *testing.T) {
	env := newOrchestratorEnv(t)
	db := env.orchestrator.db

	other := models.Channel{OwnerID: 1, ExternalID: "ig_other", Handle: "other.store", Name: "Other", Active: true}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	rows := []models.AutomationRun{
		{ChannelID: env.channel.ID, ConversationID: env.conv.ID, MessageID: 1, Outcome: models.OutcomeReplied},
		{ChannelID: env.channel.ID, ConversationID: env.conv.ID, MessageID: 2, Outcome: models.OutcomeSkipped},
		{ChannelID: other.ID, ConversationID: env.conv.ID, MessageID: 3, Outcome: models.OutcomeReplied},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed run: %v", err)
		}
	}

	replied := models.OutcomeReplied
	runs, total, err := env.orchestrator.ListRuns(context.Background(), &RunListRequest{
		ChannelID: &env.channel.ID,
		Outcome:   &replied,
		Page:      1,
		PageSize:  10,
	})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if total != 1 || len(runs) != 1 || runs[0].MessageID != 1 {
		t.Fatalf("unexpected filter result: total=%d runs=%+v", total, runs)
	}

	all, total, err := env.orchestrator.ListRuns(context.Background(), &RunListRequest{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list all runs: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if all[0].MessageID != 3 {
		t.Fatalf("runs must come newest first, got %+v", all[0])
	}
}
