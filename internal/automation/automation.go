// Package automation evaluates workspace rules against platform events
// and executes their action lists: inbound keyword replies, status
// reactions, tagging, conversation routing, and outbound notifications.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/contactutil"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/pipeline"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/waveline/waveline/pkg/whatsapp"
)

// maxDelaySeconds bounds the inline delay action.
const maxDelaySeconds = 30

// maxEventDepth stops add_tag -> tag_added recursion.
const maxEventDepth = 2

// Event is one platform occurrence fanned out to the rule engine.
type Event struct {
	Type        string
	WorkspaceID uuid.UUID

	Contact      *models.Contact
	Conversation *models.Conversation
	Message      *models.Message

	// Status for status_updated events
	Status string
	// Tag for tag_added events
	Tag string
	// CampaignID for campaign_completed events
	CampaignID *uuid.UUID

	depth int
}

// Text returns the inbound message body, if any.
func (e *Event) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Content
}

// Engine matches and executes automation rules.
type Engine struct {
	DB       *gorm.DB
	Pipeline *pipeline.Service
	Client   *whatsapp.Client
	Cfg      *config.Config
	Log      logf.Logger

	// HTTP posts notify_webhook callbacks.
	HTTP *http.Client

	// sleep is swappable in tests so delay actions do not stall them.
	sleep func(time.Duration)
}

// New creates the rule engine.
func New(db *gorm.DB, pipe *pipeline.Service, client *whatsapp.Client, cfg *config.Config, log logf.Logger) *Engine {
	return &Engine{
		DB:       db,
		Pipeline: pipe,
		Client:   client,
		Cfg:      cfg,
		Log:      log,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		sleep:    time.Sleep,
	}
}

// HandleEvent matches the event against the workspace's enabled rules
// and executes each match. Returns the number of rules executed. Rule
// failures are recorded on the rule, not propagated.
func (en *Engine) HandleEvent(ctx context.Context, event *Event) int {
	if event.depth >= maxEventDepth {
		return 0
	}

	triggers := []string{event.Type}
	if event.Type == models.TriggerMessageReceived {
		// Keyword rules ride on inbound messages.
		triggers = append(triggers, models.TriggerKeyword)
	}

	var rules []models.AutomationRule
	err := en.DB.Where("workspace_id = ? AND is_enabled = ? AND trigger IN ?",
		event.WorkspaceID, true, triggers).
		Order("priority DESC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		en.Log.Error("Failed to load automation rules", "error", err, "workspace_id", event.WorkspaceID)
		return 0
	}

	executed := 0
	for i := range rules {
		rule := &rules[i]
		if !en.matches(rule, event) {
			continue
		}
		if !en.underDailyLimit(rule) {
			en.Log.Info("Rule skipped, daily limit reached", "rule_id", rule.ID, "limit", rule.DailyLimit)
			continue
		}

		executed++
		if err := en.execute(ctx, rule, event); err != nil {
			en.recordRun(rule, err)
			en.Log.Warn("Rule execution failed", "rule_id", rule.ID, "rule", rule.Name, "error", err)
			continue
		}
		en.recordRun(rule, nil)
	}
	return executed
}

// matches evaluates the rule's condition predicate against the event.
func (en *Engine) matches(rule *models.AutomationRule, event *Event) bool {
	switch rule.Trigger {
	case models.TriggerKeyword:
		return matchKeywords(rule.Conditions, event.Text())
	case models.TriggerMessageReceived:
		// Optional keyword narrowing; empty conditions match all.
		if _, ok := rule.Conditions["keywords"]; ok {
			return matchKeywords(rule.Conditions, event.Text())
		}
		return true
	case models.TriggerStatusUpdated:
		statuses := stringList(rule.Conditions["statuses"])
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if s == event.Status {
				return true
			}
		}
		return false
	case models.TriggerTagAdded:
		tags := stringList(rule.Conditions["tags"])
		if len(tags) == 0 {
			return true
		}
		for _, tag := range tags {
			if strings.EqualFold(tag, event.Tag) {
				return true
			}
		}
		return false
	case models.TriggerCampaignCompleted, models.TriggerAdLead:
		return true
	default:
		return false
	}
}

func matchKeywords(conditions models.JSONB, text string) bool {
	keywords := stringList(conditions["keywords"])
	if len(keywords) == 0 || text == "" {
		return false
	}
	mode, _ := conditions["match_mode"].(string)
	if mode == "" {
		mode = models.MatchModeExact
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		switch mode {
		case models.MatchModeContains:
			if strings.Contains(normalized, kw) {
				return true
			}
		case models.MatchModeStartsWith:
			if strings.HasPrefix(normalized, kw) {
				return true
			}
		default:
			if normalized == kw {
				return true
			}
		}
	}
	return false
}

// underDailyLimit enforces the per-rule daily cap, resetting the
// execution counter at the first run of a new day.
func (en *Engine) underDailyLimit(rule *models.AutomationRule) bool {
	if rule.DailyLimit <= 0 {
		return true
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if rule.CountResetAt == nil || rule.CountResetAt.Before(startOfDay) {
		rule.ExecutionCount = 0
		en.DB.Model(rule).Updates(map[string]interface{}{
			"execution_count": 0,
			"count_reset_at":  now,
		})
	}
	return rule.ExecutionCount < rule.DailyLimit
}

// execute runs the rule's action list in order. An action error aborts
// the list unless the action is flagged continue_on_failure.
func (en *Engine) execute(ctx context.Context, rule *models.AutomationRule, event *Event) error {
	var firstErr error
	for i, action := range rule.Actions {
		err := en.runAction(ctx, rule, event, &action)
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("action %d (%s): %w", i, action.Type, err)
		}
		if !action.ContinueOnFailure {
			return firstErr
		}
	}
	return firstErr
}

func (en *Engine) runAction(ctx context.Context, rule *models.AutomationRule, event *Event, action *models.Action) error {
	switch action.Type {
	case models.ActionSendTemplateMessage:
		return en.sendTemplate(ctx, event, action)
	case models.ActionSendTextMessage:
		return en.sendText(ctx, event, action)
	case models.ActionSendMediaMessage:
		return en.sendMedia(ctx, event, action)
	case models.ActionAssignConversation:
		return en.assignConversation(event, action)
	case models.ActionAddTag:
		return en.addTag(ctx, event, action)
	case models.ActionRemoveTag:
		return en.removeTag(event, action)
	case models.ActionUpdateContact:
		return en.updateContact(event, action)
	case models.ActionAddNote:
		return en.addNote(event, action)
	case models.ActionNotifyWebhook:
		return en.notifyWebhook(ctx, rule, event, action)
	case models.ActionDelay:
		return en.delay(action)
	case models.ActionCloseConversation:
		return en.setConversationStatus(event, models.ConversationStatusClosed)
	case models.ActionMarkAsResolved:
		return en.setConversationStatus(event, models.ConversationStatusResolved)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// requireSessionWindow gates free-form sends on the 24h customer window.
func (en *Engine) requireSessionWindow(event *Event) error {
	if event.Conversation == nil || !event.Conversation.WithinSessionWindow(time.Now()) {
		return waerr.New(waerr.KindNo24hWindow, "no open 24h session window for free-form message")
	}
	return nil
}

// sendTemplate emits a template message; the pipeline enforces approval
// at execution time.
func (en *Engine) sendTemplate(ctx context.Context, event *Event, action *models.Action) error {
	if event.Contact == nil {
		return fmt.Errorf("no contact on event")
	}

	in := &pipeline.SendInput{
		WorkspaceID:  event.WorkspaceID,
		TemplateName: paramString(action.Params, "template_name"),
		Phone:        event.Contact.PhoneNumber,
		BodyParams:   en.resolveParams(event, stringList(action.Params["body_params"])),
		ContactID:    &event.Contact.ID,
	}
	if raw := paramString(action.Params, "template_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("bad template_id: %w", err)
		}
		in.TemplateID = id
	}

	_, err := en.Pipeline.SendTemplate(ctx, in)
	return err
}

func (en *Engine) sendText(ctx context.Context, event *Event, action *models.Action) error {
	if err := en.requireSessionWindow(event); err != nil {
		return err
	}
	if event.Contact == nil {
		return fmt.Errorf("no contact on event")
	}

	text := en.resolveValue(event, paramString(action.Params, "text"))
	if text == "" {
		return fmt.Errorf("empty text")
	}

	ws, account, err := en.loadAccount(event.WorkspaceID)
	if err != nil {
		return err
	}
	providerID, err := en.Client.SendTextMessage(ctx, account, event.Contact.PhoneNumber, text)
	if err != nil {
		return err
	}
	en.persistOutbound(ws, event, models.MessageTypeText, text, providerID)
	return nil
}

func (en *Engine) sendMedia(ctx context.Context, event *Event, action *models.Action) error {
	if err := en.requireSessionWindow(event); err != nil {
		return err
	}
	if event.Contact == nil {
		return fmt.Errorf("no contact on event")
	}

	mediaType := paramString(action.Params, "media_type")
	mediaID := paramString(action.Params, "media_id")
	mediaLink := paramString(action.Params, "media_link")
	caption := en.resolveValue(event, paramString(action.Params, "caption"))

	refKind, ref := "id", mediaID
	if mediaID == "" {
		refKind, ref = "link", mediaLink
	}
	if mediaType == "" || ref == "" {
		return fmt.Errorf("media action needs media_type and media_id or media_link")
	}

	ws, account, err := en.loadAccount(event.WorkspaceID)
	if err != nil {
		return err
	}
	providerID, err := en.Client.SendMediaMessage(ctx, account, event.Contact.PhoneNumber, mediaType, refKind, ref, caption)
	if err != nil {
		return err
	}
	en.persistOutbound(ws, event, mediaType, caption, providerID)
	return nil
}

// assignConversation routes the thread to an agent: a specific id, or
// least_busy / round_robin over the configured agent pool.
func (en *Engine) assignConversation(event *Event, action *models.Action) error {
	if event.Conversation == nil {
		return fmt.Errorf("no conversation on event")
	}

	strategy := paramString(action.Params, "strategy")
	agents := stringList(action.Params["agent_ids"])

	var agentID uuid.UUID
	switch strategy {
	case "specific":
		id, err := uuid.Parse(paramString(action.Params, "agent_id"))
		if err != nil {
			return fmt.Errorf("bad agent_id: %w", err)
		}
		agentID = id
	case "least_busy":
		id, err := en.leastBusyAgent(event.WorkspaceID, agents)
		if err != nil {
			return err
		}
		agentID = id
	default: // round_robin
		if len(agents) == 0 {
			return fmt.Errorf("no agent pool configured")
		}
		var assigned int64
		en.DB.Model(&models.Conversation{}).
			Where("workspace_id = ? AND assigned_to IS NOT NULL", event.WorkspaceID).
			Count(&assigned)
		id, err := uuid.Parse(agents[int(assigned)%len(agents)])
		if err != nil {
			return fmt.Errorf("bad agent id in pool: %w", err)
		}
		agentID = id
	}

	return en.DB.Model(event.Conversation).Update("assigned_to", agentID).Error
}

func (en *Engine) leastBusyAgent(workspaceID uuid.UUID, agents []string) (uuid.UUID, error) {
	if len(agents) == 0 {
		return uuid.Nil, fmt.Errorf("no agent pool configured")
	}
	best, bestLoad := uuid.Nil, int64(-1)
	for _, raw := range agents {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		var load int64
		en.DB.Model(&models.Conversation{}).
			Where("workspace_id = ? AND assigned_to = ? AND status = ?",
				workspaceID, id, models.ConversationStatusOpen).
			Count(&load)
		if bestLoad < 0 || load < bestLoad {
			best, bestLoad = id, load
		}
	}
	if best == uuid.Nil {
		return uuid.Nil, fmt.Errorf("no valid agent in pool")
	}
	return best, nil
}

// addTag tags the contact and re-fires a tag_added event one level deep.
func (en *Engine) addTag(ctx context.Context, event *Event, action *models.Action) error {
	if event.Contact == nil {
		return fmt.Errorf("no contact on event")
	}
	tag := paramString(action.Params, "tag")
	if tag == "" {
		return fmt.Errorf("empty tag")
	}
	if event.Contact.Tags.Contains(tag) {
		return nil
	}

	event.Contact.Tags = append(event.Contact.Tags, tag)
	if err := en.DB.Model(event.Contact).Update("tags", event.Contact.Tags).Error; err != nil {
		return err
	}

	en.HandleEvent(ctx, &Event{
		Type:         models.TriggerTagAdded,
		WorkspaceID:  event.WorkspaceID,
		Contact:      event.Contact,
		Conversation: event.Conversation,
		Tag:          tag,
		depth:        event.depth + 1,
	})
	return nil
}

func (en *Engine) removeTag(event *Event, action *models.Action) error {
	if event.Contact == nil {
		return fmt.Errorf("no contact on event")
	}
	tag := paramString(action.Params, "tag")

	kept := make(models.StringArray, 0, len(event.Contact.Tags))
	for _, t := range event.Contact.Tags {
		if !strings.EqualFold(t, tag) {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(event.Contact.Tags) {
		return nil
	}
	event.Contact.Tags = kept
	return en.DB.Model(event.Contact).Update("tags", kept).Error
}

// updateContact merges name/email and attribute fields onto the contact.
func (en *Engine) updateContact(event *Event, action *models.Action) error {
	if event.Contact == nil {
		return fmt.Errorf("no contact on event")
	}

	updates := map[string]interface{}{}
	if name := paramString(action.Params, "name"); name != "" {
		updates["name"] = name
		event.Contact.Name = name
	}
	if email := paramString(action.Params, "email"); email != "" {
		updates["email"] = email
		event.Contact.Email = email
	}
	if attrs, ok := action.Params["attributes"].(map[string]interface{}); ok && len(attrs) > 0 {
		if event.Contact.Attributes == nil {
			event.Contact.Attributes = models.JSONB{}
		}
		for k, v := range attrs {
			event.Contact.Attributes[k] = v
		}
		updates["attributes"] = event.Contact.Attributes
	}
	if len(updates) == 0 {
		return nil
	}
	return en.DB.Model(event.Contact).Updates(updates).Error
}

func (en *Engine) addNote(event *Event, action *models.Action) error {
	if event.Conversation == nil {
		return fmt.Errorf("no conversation on event")
	}
	note := en.resolveValue(event, paramString(action.Params, "note"))
	if note == "" {
		return fmt.Errorf("empty note")
	}

	if event.Conversation.Notes == nil {
		event.Conversation.Notes = models.JSONB{}
	}
	event.Conversation.Notes[time.Now().Format(time.RFC3339Nano)] = note
	return en.DB.Model(event.Conversation).Update("notes", event.Conversation.Notes).Error
}

// notifyWebhook posts a JSON event summary to the configured URL.
func (en *Engine) notifyWebhook(ctx context.Context, rule *models.AutomationRule, event *Event, action *models.Action) error {
	url := paramString(action.Params, "url")
	if url == "" {
		return fmt.Errorf("empty webhook url")
	}

	payload := map[string]interface{}{
		"rule_id":      rule.ID,
		"rule_name":    rule.Name,
		"trigger":      event.Type,
		"workspace_id": event.WorkspaceID,
		"occurred_at":  time.Now().UTC(),
	}
	if event.Contact != nil {
		payload["contact_id"] = event.Contact.ID
		payload["phone_number"] = event.Contact.PhoneNumber
	}
	if event.Message != nil {
		payload["message_id"] = event.Message.ID
		payload["content"] = event.Message.Content
	}
	if event.Status != "" {
		payload["status"] = event.Status
	}
	if event.CampaignID != nil {
		payload["campaign_id"] = *event.CampaignID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := en.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (en *Engine) delay(action *models.Action) error {
	secs := paramInt(action.Params, "seconds")
	if secs <= 0 {
		return nil
	}
	if secs > maxDelaySeconds {
		secs = maxDelaySeconds
	}
	en.sleep(time.Duration(secs) * time.Second)
	return nil
}

func (en *Engine) setConversationStatus(event *Event, status string) error {
	if event.Conversation == nil {
		return fmt.Errorf("no conversation on event")
	}
	event.Conversation.Status = status
	return en.DB.Model(event.Conversation).Update("status", status).Error
}

func (en *Engine) loadAccount(workspaceID uuid.UUID) (*models.Workspace, *whatsapp.Account, error) {
	var ws models.Workspace
	if err := en.DB.First(&ws, "id = ?", workspaceID).Error; err != nil {
		return nil, nil, fmt.Errorf("workspace load failed: %w", err)
	}
	if !ws.IsConnected() {
		return nil, nil, waerr.New(waerr.KindWorkspaceNotConfigured, "workspace cannot send")
	}
	return &ws, &whatsapp.Account{
		PhoneID:     ws.PhoneNumberID,
		BusinessID:  ws.BusinessAccountID,
		APIVersion:  en.Cfg.WhatsApp.APIVersion,
		AccessToken: ws.AccessToken,
	}, nil
}

func (en *Engine) persistOutbound(ws *models.Workspace, event *Event, msgType, content, providerID string) {
	now := time.Now()
	msg := models.Message{
		WorkspaceID:       ws.ID,
		ContactID:         &event.Contact.ID,
		Direction:         models.DirectionOutbound,
		MessageType:       msgType,
		Status:            models.MessageStatusSent,
		Content:           content,
		ProviderMessageID: providerID,
		SentAt:            &now,
	}
	if err := en.DB.Create(&msg).Error; err != nil {
		en.Log.Error("Failed to persist automation message", "error", err, "workspace_id", ws.ID)
	}
}

// resolveParams maps action parameter values, expanding contact.*
// references against the event's contact.
func (en *Engine) resolveParams(event *Event, params []string) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = en.resolveValue(event, p)
	}
	return out
}

func (en *Engine) resolveValue(event *Event, value string) string {
	const prefix = "contact."
	if !strings.HasPrefix(value, prefix) || event.Contact == nil {
		return value
	}
	return contactutil.ResolveField(event.Contact, strings.TrimPrefix(value, prefix))
}

// recordRun rolls the execution counters onto the rule.
func (en *Engine) recordRun(rule *models.AutomationRule, runErr error) {
	now := time.Now()
	updates := map[string]interface{}{
		"execution_count":  gorm.Expr("execution_count + 1"),
		"last_executed_at": &now,
	}
	if runErr != nil {
		updates["failure_count"] = gorm.Expr("failure_count + 1")
		updates["last_error"] = runErr.Error()
	} else {
		updates["success_count"] = gorm.Expr("success_count + 1")
		updates["last_error"] = ""
	}
	if err := en.DB.Model(rule).Updates(updates).Error; err != nil {
		en.Log.Error("Failed to record rule run", "error", err, "rule_id", rule.ID)
	}
	rule.ExecutionCount++
}

func paramString(params models.JSONB, key string) string {
	v, _ := params[key].(string)
	return v
}

func paramInt(params models.JSONB, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func stringList(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
