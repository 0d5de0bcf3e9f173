package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/pipeline"
	"github.com/waveline/waveline/pkg/whatsapp"
)

type engineFixture struct {
	engine   *Engine
	db       *gorm.DB
	ws       *models.Workspace
	contact  *models.Contact
	conv     *models.Conversation
	sends    *int64
	provider *httptest.Server

	mu    sync.Mutex
	paths []string
}

func (f *engineFixture) requestPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Workspace{}, &models.Contact{}, &models.Template{},
		&models.Conversation{}, &models.Message{}, &models.CampaignMessage{},
		&models.AutomationRule{},
	))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	f := &engineFixture{}

	var sends int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&sends, 1)
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": fmt.Sprintf("wamid.AUTO%d", n)}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg, err := config.Load("")
	require.NoError(t, err)
	log := logf.New(logf.Opts{})
	client := whatsapp.NewWithBaseURL(log, srv.URL)
	pipe := pipeline.New(db, client, cfg, log)

	engine := New(db, pipe, client, cfg, log)
	engine.sleep = func(time.Duration) {}

	expiry := time.Now().Add(24 * time.Hour)
	ws := models.Workspace{
		Name:           "Acme",
		Plan:           models.PlanBasic,
		AccessToken:    "token",
		TokenExpiresAt: &expiry,
		PhoneNumberID:  "555001",
		PhoneStatus:    models.PhoneConnected,
		QualityRating:  models.QualityGreen,
		MessagingTier:  models.Tier1K,
	}
	require.NoError(t, db.Create(&ws).Error)

	contact := models.Contact{WorkspaceID: ws.ID, PhoneNumber: "14155551234", Name: "Dana"}
	require.NoError(t, db.Create(&contact).Error)

	recent := time.Now().Add(-time.Hour)
	conv := models.Conversation{
		WorkspaceID:           ws.ID,
		ContactID:             contact.ID,
		Status:                models.ConversationStatusOpen,
		LastCustomerMessageAt: &recent,
	}
	require.NoError(t, db.Create(&conv).Error)

	f.engine = engine
	f.db = db
	f.ws = &ws
	f.contact = &contact
	f.conv = &conv
	f.sends = &sends
	f.provider = srv
	return f
}

func (f *engineFixture) createRule(t *testing.T, trigger string, conditions models.JSONB, actions models.ActionList) *models.AutomationRule {
	t.Helper()
	rule := models.AutomationRule{
		WorkspaceID: f.ws.ID,
		Name:        "rule-" + trigger,
		Trigger:     trigger,
		IsEnabled:   true,
		Conditions:  conditions,
		Actions:     actions,
	}
	require.NoError(t, f.db.Create(&rule).Error)
	return &rule
}

func (f *engineFixture) inboundEvent(text string) *Event {
	return &Event{
		Type:         models.TriggerMessageReceived,
		WorkspaceID:  f.ws.ID,
		Contact:      f.contact,
		Conversation: f.conv,
		Message: &models.Message{
			WorkspaceID: f.ws.ID,
			ContactID:   &f.contact.ID,
			Direction:   models.DirectionInbound,
			Content:     text,
		},
	}
}

func (f *engineFixture) reloadRule(t *testing.T, id interface{}) *models.AutomationRule {
	t.Helper()
	var rule models.AutomationRule
	require.NoError(t, f.db.First(&rule, "id = ?", id).Error)
	return &rule
}

func TestKeywordRuleSendsTextReply(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.createRule(t, models.TriggerKeyword,
		models.JSONB{"keywords": []interface{}{"hours"}, "match_mode": models.MatchModeExact},
		models.ActionList{{
			Type:   models.ActionSendTextMessage,
			Params: models.JSONB{"text": "We are open 9-5."},
		}},
	)

	executed := f.engine.HandleEvent(context.Background(), f.inboundEvent("HOURS"))
	assert.Equal(t, 1, executed)
	assert.EqualValues(t, 1, *f.sends)

	var msg models.Message
	require.NoError(t, f.db.Where("workspace_id = ? AND direction = ?", f.ws.ID, models.DirectionOutbound).
		First(&msg).Error)
	assert.Equal(t, models.MessageTypeText, msg.MessageType)
	assert.NotEmpty(t, msg.ProviderMessageID)

	reloaded := f.reloadRule(t, rule.ID)
	assert.Equal(t, 1, reloaded.ExecutionCount)
	assert.Equal(t, 1, reloaded.SuccessCount)
	assert.Zero(t, reloaded.FailureCount)
}

func TestFreeFormSendTargetsVersionedMessagesEndpoint(t *testing.T) {
	f := newEngineFixture(t)
	f.createRule(t, models.TriggerKeyword,
		models.JSONB{"keywords": []interface{}{"hours"}},
		models.ActionList{{
			Type:   models.ActionSendTextMessage,
			Params: models.JSONB{"text": "We are open 9-5."},
		}},
	)

	executed := f.engine.HandleEvent(context.Background(), f.inboundEvent("hours"))
	require.Equal(t, 1, executed)

	paths := f.requestPaths()
	require.Len(t, paths, 1)
	want := fmt.Sprintf("/%s/%s/messages", f.engine.Cfg.WhatsApp.APIVersion, f.ws.PhoneNumberID)
	assert.Equal(t, want, paths[0])
}

func TestKeywordMatchModes(t *testing.T) {
	cases := []struct {
		mode, keyword, text string
		want                bool
	}{
		{models.MatchModeExact, "stop", "stop", true},
		{models.MatchModeExact, "stop", "please stop", false},
		{models.MatchModeContains, "price", "what is the price today", true},
		{models.MatchModeContains, "price", "hello", false},
		{models.MatchModeStartsWith, "order", "order #42 status", true},
		{models.MatchModeStartsWith, "order", "my order", false},
	}
	for _, tc := range cases {
		conditions := models.JSONB{"keywords": []interface{}{tc.keyword}, "match_mode": tc.mode}
		got := matchKeywords(conditions, tc.text)
		assert.Equal(t, tc.want, got, "%s %q vs %q", tc.mode, tc.keyword, tc.text)
	}
}

func TestSessionWindowGateBlocksFreeFormSends(t *testing.T) {
	f := newEngineFixture(t)
	stale := time.Now().Add(-25 * time.Hour)
	require.NoError(t, f.db.Model(f.conv).Update("last_customer_message_at", &stale).Error)
	f.conv.LastCustomerMessageAt = &stale

	rule := f.createRule(t, models.TriggerMessageReceived, models.JSONB{},
		models.ActionList{
			{
				Type:              models.ActionSendTextMessage,
				Params:            models.JSONB{"text": "too late"},
				ContinueOnFailure: true,
			},
			{
				Type:   models.ActionAddTag,
				Params: models.JSONB{"tag": "window-expired"},
			},
		},
	)

	executed := f.engine.HandleEvent(context.Background(), f.inboundEvent("hello"))
	assert.Equal(t, 1, executed)
	assert.Zero(t, *f.sends, "no free-form send outside the 24h window")

	// continue_on_failure let the tagging action run.
	var contact models.Contact
	require.NoError(t, f.db.First(&contact, "id = ?", f.contact.ID).Error)
	assert.True(t, contact.Tags.Contains("window-expired"))

	reloaded := f.reloadRule(t, rule.ID)
	assert.Equal(t, 1, reloaded.FailureCount)
	assert.Contains(t, reloaded.LastError, "NO_24H_WINDOW")
}

func TestTemplateApprovalCheckedAtExecution(t *testing.T) {
	f := newEngineFixture(t)
	tpl := models.Template{
		WorkspaceID: f.ws.ID,
		Name:        "welcome",
		Language:    "en",
		Status:            models.TemplateStatusApproved,
		BodyContent:       "Welcome {{1}}",
		BodyVariableCount: 1,
	}
	require.NoError(t, f.db.Create(&tpl).Error)

	rule := f.createRule(t, models.TriggerKeyword,
		models.JSONB{"keywords": []interface{}{"join"}},
		models.ActionList{{
			Type: models.ActionSendTemplateMessage,
			Params: models.JSONB{
				"template_name": "welcome",
				"body_params":   []interface{}{"contact.name"},
			},
		}},
	)

	f.engine.HandleEvent(context.Background(), f.inboundEvent("join"))
	assert.EqualValues(t, 1, *f.sends)

	// Approval is revoked after rule configuration; execution must
	// re-check.
	require.NoError(t, f.db.Model(&tpl).Update("status", models.TemplateStatusRejected).Error)
	f.engine.HandleEvent(context.Background(), f.inboundEvent("join"))
	assert.EqualValues(t, 1, *f.sends, "revoked template must not emit")

	reloaded := f.reloadRule(t, rule.ID)
	assert.Equal(t, 2, reloaded.ExecutionCount)
	assert.Equal(t, 1, reloaded.SuccessCount)
	assert.Equal(t, 1, reloaded.FailureCount)
}

func TestDailyLimitCapsExecutions(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.createRule(t, models.TriggerMessageReceived, models.JSONB{},
		models.ActionList{{
			Type:   models.ActionAddNote,
			Params: models.JSONB{"note": "seen"},
		}},
	)
	require.NoError(t, f.db.Model(rule).Update("daily_limit", 1).Error)

	assert.Equal(t, 1, f.engine.HandleEvent(context.Background(), f.inboundEvent("first")))
	assert.Equal(t, 0, f.engine.HandleEvent(context.Background(), f.inboundEvent("second")))

	reloaded := f.reloadRule(t, rule.ID)
	assert.Equal(t, 1, reloaded.ExecutionCount)
}

func TestDailyLimitResetsNextDay(t *testing.T) {
	f := newEngineFixture(t)
	yesterday := time.Now().Add(-26 * time.Hour)
	rule := f.createRule(t, models.TriggerMessageReceived, models.JSONB{},
		models.ActionList{{
			Type:   models.ActionAddNote,
			Params: models.JSONB{"note": "seen"},
		}},
	)
	require.NoError(t, f.db.Model(rule).Updates(map[string]interface{}{
		"daily_limit":     1,
		"execution_count": 1,
		"count_reset_at":  &yesterday,
	}).Error)

	assert.Equal(t, 1, f.engine.HandleEvent(context.Background(), f.inboundEvent("new day")))
}

func TestAddTagFansOutTagAddedEvent(t *testing.T) {
	f := newEngineFixture(t)
	f.createRule(t, models.TriggerKeyword,
		models.JSONB{"keywords": []interface{}{"vip"}},
		models.ActionList{{
			Type:   models.ActionAddTag,
			Params: models.JSONB{"tag": "vip"},
		}},
	)
	f.createRule(t, models.TriggerTagAdded,
		models.JSONB{"tags": []interface{}{"vip"}},
		models.ActionList{{
			Type:   models.ActionAddNote,
			Params: models.JSONB{"note": "escalated to vip"},
		}},
	)

	f.engine.HandleEvent(context.Background(), f.inboundEvent("vip"))

	var contact models.Contact
	require.NoError(t, f.db.First(&contact, "id = ?", f.contact.ID).Error)
	assert.True(t, contact.Tags.Contains("vip"))

	var conv models.Conversation
	require.NoError(t, f.db.First(&conv, "id = ?", f.conv.ID).Error)
	found := false
	for _, v := range conv.Notes {
		if v == "escalated to vip" {
			found = true
		}
	}
	assert.True(t, found, "tag_added rule should have added the note")
}

func TestStatusUpdatedRuleFiltersStatuses(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.createRule(t, models.TriggerStatusUpdated,
		models.JSONB{"statuses": []interface{}{models.MessageStatusFailed}},
		models.ActionList{{
			Type:   models.ActionAddTag,
			Params: models.JSONB{"tag": "delivery-problem"},
		}},
	)

	event := &Event{
		Type:        models.TriggerStatusUpdated,
		WorkspaceID: f.ws.ID,
		Contact:     f.contact,
		Status:      models.MessageStatusDelivered,
	}
	assert.Equal(t, 0, f.engine.HandleEvent(context.Background(), event))

	event.Status = models.MessageStatusFailed
	assert.Equal(t, 1, f.engine.HandleEvent(context.Background(), event))

	reloaded := f.reloadRule(t, rule.ID)
	assert.Equal(t, 1, reloaded.ExecutionCount)
}

func TestNotifyWebhookPostsEventSummary(t *testing.T) {
	f := newEngineFixture(t)

	var received map[string]interface{}
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	f.createRule(t, models.TriggerMessageReceived, models.JSONB{},
		models.ActionList{{
			Type:   models.ActionNotifyWebhook,
			Params: models.JSONB{"url": hook.URL},
		}},
	)

	f.engine.HandleEvent(context.Background(), f.inboundEvent("ping"))
	require.NotNil(t, received)
	assert.Equal(t, models.TriggerMessageReceived, received["trigger"])
	assert.Equal(t, "ping", received["content"])
	assert.Equal(t, f.contact.PhoneNumber, received["phone_number"])
}

func TestAssignConversationLeastBusy(t *testing.T) {
	f := newEngineFixture(t)
	agentA, agentB := "2a3c0a40-0000-4000-8000-000000000001", "2a3c0a40-0000-4000-8000-000000000002"

	// Agent A already carries an open thread.
	other := models.Contact{WorkspaceID: f.ws.ID, PhoneNumber: "14155550000"}
	require.NoError(t, f.db.Create(&other).Error)
	busy := models.Conversation{
		WorkspaceID: f.ws.ID,
		ContactID:   other.ID,
		Status:      models.ConversationStatusOpen,
	}
	require.NoError(t, f.db.Create(&busy).Error)
	require.NoError(t, f.db.Model(&busy).Update("assigned_to", agentA).Error)

	f.createRule(t, models.TriggerMessageReceived, models.JSONB{},
		models.ActionList{{
			Type: models.ActionAssignConversation,
			Params: models.JSONB{
				"strategy":  "least_busy",
				"agent_ids": []interface{}{agentA, agentB},
			},
		}},
	)

	f.engine.HandleEvent(context.Background(), f.inboundEvent("help"))

	var conv models.Conversation
	require.NoError(t, f.db.First(&conv, "id = ?", f.conv.ID).Error)
	require.NotNil(t, conv.AssignedTo)
	assert.Equal(t, agentB, conv.AssignedTo.String())
}

func TestCloseAndResolveActions(t *testing.T) {
	f := newEngineFixture(t)
	f.createRule(t, models.TriggerKeyword,
		models.JSONB{"keywords": []interface{}{"bye"}},
		models.ActionList{{Type: models.ActionCloseConversation}},
	)

	f.engine.HandleEvent(context.Background(), f.inboundEvent("bye"))

	var conv models.Conversation
	require.NoError(t, f.db.First(&conv, "id = ?", f.conv.ID).Error)
	assert.Equal(t, models.ConversationStatusClosed, conv.Status)
}

func TestDisabledRulesNeverRun(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.createRule(t, models.TriggerMessageReceived, models.JSONB{},
		models.ActionList{{
			Type:   models.ActionAddTag,
			Params: models.JSONB{"tag": "should-not-appear"},
		}},
	)
	require.NoError(t, f.db.Model(rule).Update("is_enabled", false).Error)

	assert.Equal(t, 0, f.engine.HandleEvent(context.Background(), f.inboundEvent("hello")))
}
