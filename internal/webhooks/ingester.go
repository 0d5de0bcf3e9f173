// Package webhooks ingests provider callbacks: status rollups with
// monotonic progression, inbound message and conversation upserts,
// template-state propagation, and quality/tier/account updates. Every
// path tolerates unknown ids and redeliveries; providers require a fast
// 2xx regardless of outcome.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/automation"
	"github.com/waveline/waveline/internal/campaigns"
	"github.com/waveline/waveline/internal/contactutil"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/router"
	"github.com/waveline/waveline/pkg/whatsapp"
)

// Change fields dispatched by the ingester
const (
	FieldMessages             = "messages"
	FieldTemplateStatusUpdate = "message_template_status_update"
	FieldQualityUpdate        = "phone_number_quality_update"
	FieldAccountUpdate        = "account_update"
)

// Ingester processes provider webhook payloads.
type Ingester struct {
	DB         *gorm.DB
	Router     *router.Router
	Campaigns  *campaigns.Service
	Automation *automation.Engine
	Log        logf.Logger
}

// New creates the ingester.
func New(db *gorm.DB, rt *router.Router, svc *campaigns.Service, engine *automation.Engine, log logf.Logger) *Ingester {
	return &Ingester{DB: db, Router: rt, Campaigns: svc, Automation: engine, Log: log}
}

// Process walks every change in the payload. It never returns an error:
// each change is logged with its outcome and the caller acknowledges
// regardless.
func (ing *Ingester) Process(ctx context.Context, payload *whatsapp.WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			ing.processChange(ctx, entry.ID, &change)
		}
	}
}

func (ing *Ingester) processChange(ctx context.Context, entryID string, change *whatsapp.WebhookChange) {
	logRow := &models.WebhookLog{
		PhoneNumberID: change.Value.Metadata.PhoneNumberID,
		EventType:     change.Field,
		Payload:       toJSONB(change.Value),
	}
	if err := ing.DB.Create(logRow).Error; err != nil {
		ing.Log.Error("Failed to append webhook log", "error", err, "field", change.Field)
	}

	switch change.Field {
	case FieldMessages:
		ing.processMessagesChange(ctx, logRow, &change.Value)
	case FieldTemplateStatusUpdate:
		ing.processTemplateEvent(ctx, logRow, entryID, &change.Value)
	case FieldQualityUpdate:
		ing.processQualityEvent(ctx, logRow, entryID, &change.Value)
	case FieldAccountUpdate:
		ing.processAccountEvent(ctx, logRow, entryID, &change.Value)
	default:
		ing.finishLog(logRow, nil, models.WebhookOutcomeProcessed, "")
	}
}

// processMessagesChange handles the statuses[] and messages[] arrays of
// one change, resolved to a workspace by phone-number id.
func (ing *Ingester) processMessagesChange(ctx context.Context, logRow *models.WebhookLog, value *whatsapp.WebhookValue) {
	ws, err := ing.Router.Resolve(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		ing.Log.Warn("Webhook for unknown phone id", "phone_number_id", value.Metadata.PhoneNumberID)
		ing.finishLog(logRow, nil, models.WebhookOutcomeUnresolved, "unknown phone number id")
		return
	}

	for i := range value.Statuses {
		ing.processStatus(ctx, ws, &value.Statuses[i])
	}
	for i := range value.Messages {
		ing.processInbound(ctx, ws, value, &value.Messages[i])
	}
	ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeProcessed, "")
}

// processStatus applies one status event under the monotonic
// progression rule and rolls campaign counters exactly once per
// advancing transition.
func (ing *Ingester) processStatus(ctx context.Context, ws *models.Workspace, status *whatsapp.WebhookStatus) {
	var msg models.Message
	err := ing.DB.Where("workspace_id = ? AND provider_message_id = ?", ws.ID, status.ID).First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		// Unknown id: out-of-order with the send path, or a message
		// emitted before a crash. Tolerated.
		ing.Log.Info("Status for unknown message id", "provider_message_id", status.ID, "status", status.Status)
		return
	}
	if err != nil {
		ing.Log.Error("Message lookup failed", "error", err, "provider_message_id", status.ID)
		return
	}

	if !models.StatusAdvances(msg.Status, status.Status) {
		return // restated or out-of-order, silently dropped
	}

	eventAt := whatsapp.ParsedTimestamp(status.Timestamp)
	updates := map[string]interface{}{"status": status.Status}
	prevRank, newRank := models.StatusRank(msg.Status), models.StatusRank(status.Status)

	// Stamp every rank the transition passes through, so a collapsed
	// sent->read also records deliveredAt.
	if status.Status == models.MessageStatusFailed {
		updates["failed_at"] = &eventAt
		if len(status.Errors) > 0 {
			updates["error_message"] = status.Errors[0].Message
			updates["error_code"] = status.Errors[0].Code
		}
	} else {
		if prevRank < models.StatusRank(models.MessageStatusSent) && newRank >= models.StatusRank(models.MessageStatusSent) && msg.SentAt == nil {
			updates["sent_at"] = &eventAt
		}
		if prevRank < models.StatusRank(models.MessageStatusDelivered) && newRank >= models.StatusRank(models.MessageStatusDelivered) {
			updates["delivered_at"] = &eventAt
		}
		if newRank >= models.StatusRank(models.MessageStatusRead) {
			updates["read_at"] = &eventAt
		}
	}

	// Conditional on the observed status: a concurrent delivery of the
	// same webhook loses the race and skips the rollup.
	res := ing.DB.Model(&models.Message{}).
		Where("id = ? AND status = ?", msg.ID, msg.Status).
		Updates(updates)
	if res.Error != nil {
		ing.Log.Error("Message status update failed", "error", res.Error, "message_id", msg.ID)
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	if msg.CampaignID != nil {
		ing.rollupCampaign(ctx, &msg, status.Status, prevRank, newRank, updates)
	}

	if status.Conversation != nil && msg.ContactID != nil {
		ing.recordLedger(ws, &msg, status)
	}

	// Significant transitions fan out to the rule engine.
	switch status.Status {
	case models.MessageStatusDelivered, models.MessageStatusRead, models.MessageStatusFailed:
		var contact models.Contact
		if msg.ContactID != nil && ing.DB.First(&contact, "id = ?", *msg.ContactID).Error == nil {
			ing.Automation.HandleEvent(ctx, &automation.Event{
				Type:        models.TriggerStatusUpdated,
				WorkspaceID: ws.ID,
				Contact:     &contact,
				Message:     &msg,
				Status:      status.Status,
			})
		}
	}
}

// rollupCampaign mirrors the message transition onto the CampaignMessage
// and the campaign totals. A collapsed transition (sent -> read with no
// delivered webhook yet) charges every counter it passes, exactly once.
func (ing *Ingester) rollupCampaign(ctx context.Context, msg *models.Message, newStatus string, prevRank, newRank int, stamps map[string]interface{}) {
	campaignID := *msg.CampaignID

	if msg.ContactID != nil {
		cmUpdates := map[string]interface{}{"status": newStatus}
		for _, key := range []string{"sent_at", "delivered_at", "read_at", "failed_at"} {
			if v, ok := stamps[key]; ok {
				cmUpdates[key] = v
			}
		}
		if v, ok := stamps["error_message"]; ok {
			cmUpdates["last_error"] = v
		}
		if v, ok := stamps["error_code"]; ok {
			cmUpdates["last_error_code"] = v
		}
		err := ing.DB.Model(&models.CampaignMessage{}).
			Where("campaign_id = ? AND contact_id = ?", campaignID, *msg.ContactID).
			Updates(cmUpdates).Error
		if err != nil {
			ing.Log.Error("Campaign message rollup failed", "error", err, "campaign_id", campaignID)
		}
	}

	counters := map[string]interface{}{}
	if newStatus == models.MessageStatusFailed {
		counters["failed_count"] = gorm.Expr("failed_count + 1")
		if prevRank >= models.StatusRank(models.MessageStatusSent) {
			// The send path already charged sent_count; a late failure
			// moves the unit over.
			counters["sent_count"] = gorm.Expr("CASE WHEN sent_count > 0 THEN sent_count - 1 ELSE 0 END")
		}
	} else {
		if prevRank < models.StatusRank(models.MessageStatusDelivered) && newRank >= models.StatusRank(models.MessageStatusDelivered) {
			counters["delivered_count"] = gorm.Expr("delivered_count + 1")
		}
		if prevRank < models.StatusRank(models.MessageStatusRead) && newRank >= models.StatusRank(models.MessageStatusRead) {
			counters["read_count"] = gorm.Expr("read_count + 1")
		}
	}
	if len(counters) > 0 {
		err := ing.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).Updates(counters).Error
		if err != nil {
			ing.Log.Error("Campaign counter rollup failed", "error", err, "campaign_id", campaignID)
		}
	}

	ing.maybeComplete(ctx, campaignID)
}

// maybeComplete finishes a RUNNING campaign once every recipient has a
// terminal send outcome.
func (ing *Ingester) maybeComplete(ctx context.Context, campaignID uuid.UUID) {
	var campaign models.Campaign
	if err := ing.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		return
	}
	if campaign.Status != models.CampaignStatusRunning || campaign.TotalRecipients == 0 {
		return
	}
	if campaign.SentCount+campaign.FailedCount >= campaign.TotalRecipients {
		if err := ing.Campaigns.Complete(ctx, campaignID, "all recipients resolved"); err != nil {
			ing.Log.Warn("Completion trigger failed", "error", err, "campaign_id", campaignID)
		}
	}
}

// recordLedger books the provider conversation for billing attribution,
// once per provider conversation id.
func (ing *Ingester) recordLedger(ws *models.Workspace, msg *models.Message, status *whatsapp.WebhookStatus) {
	var count int64
	ing.DB.Model(&models.ConversationLedger{}).
		Where("workspace_id = ? AND provider_conv_id = ?", ws.ID, status.Conversation.ID).
		Count(&count)
	if count > 0 {
		return
	}

	var conv models.Conversation
	err := ing.DB.Where("workspace_id = ? AND contact_id = ?", ws.ID, *msg.ContactID).First(&conv).Error
	if err != nil {
		return // ledger entries require a thread
	}

	origin := models.SessionBusinessInitiated
	if status.Conversation.Origin != nil && status.Conversation.Origin.Type == "service" {
		origin = models.SessionUserInitiated
	}

	entry := models.ConversationLedger{
		WorkspaceID:    ws.ID,
		ConversationID: conv.ID,
		ContactID:      *msg.ContactID,
		Origin:         origin,
		ProviderConvID: status.Conversation.ID,
		TemplateID:     msg.TemplateID,
		CampaignID:     msg.CampaignID,
		StartedAt:      whatsapp.ParsedTimestamp(status.Timestamp),
	}
	if status.Pricing != nil {
		entry.Billable = status.Pricing.Billable
		entry.Category = status.Pricing.Category
	}
	if err := ing.DB.Create(&entry).Error; err != nil {
		ing.Log.Error("Failed to record conversation ledger", "error", err, "conversation_id", conv.ID)
	}
}

// processInbound upserts the contact and conversation, persists the
// message, and fans out to the rule engine. The provider message id
// dedupes redeliveries.
func (ing *Ingester) processInbound(ctx context.Context, ws *models.Workspace, value *whatsapp.WebhookValue, wm *whatsapp.WebhookMessage) {
	var existing int64
	ing.DB.Model(&models.Message{}).
		Where("workspace_id = ? AND provider_message_id = ?", ws.ID, wm.ID).
		Count(&existing)
	if existing > 0 {
		return // redelivery
	}

	contact, err := contactutil.GetOrCreateContact(ing.DB, ws.ID, wm.From, profileName(value, wm.From))
	if err != nil {
		ing.Log.Error("Contact upsert failed", "error", err, "from", wm.From)
		return
	}

	msgType, content, mediaID := classifyInbound(wm)
	receivedAt := whatsapp.ParsedTimestamp(wm.Timestamp)

	msg := models.Message{
		WorkspaceID:       ws.ID,
		ContactID:         &contact.ID,
		Direction:         models.DirectionInbound,
		MessageType:       msgType,
		Status:            models.MessageStatusReceived,
		Content:           content,
		MediaID:           mediaID,
		ProviderMessageID: wm.ID,
	}
	if wm.Referral != nil {
		msg.Metadata = models.JSONB{
			"referral_source_id":   wm.Referral.SourceID,
			"referral_source_type": wm.Referral.SourceType,
			"referral_source_url":  wm.Referral.SourceURL,
		}
	}
	if err := ing.DB.Create(&msg).Error; err != nil {
		ing.Log.Error("Failed to persist inbound message", "error", err, "provider_message_id", wm.ID)
		return
	}

	conv := ing.touchConversation(ws, contact, receivedAt)

	if wm.Context != nil {
		ing.recordReply(ws, wm.Context.ID)
	}

	ing.Automation.HandleEvent(ctx, &automation.Event{
		Type:         models.TriggerMessageReceived,
		WorkspaceID:  ws.ID,
		Contact:      contact,
		Conversation: conv,
		Message:      &msg,
	})
	if wm.Referral != nil {
		ing.Automation.HandleEvent(ctx, &automation.Event{
			Type:         models.TriggerAdLead,
			WorkspaceID:  ws.ID,
			Contact:      contact,
			Conversation: conv,
			Message:      &msg,
		})
	}
}

// touchConversation upserts the thread and advances the 24h-window
// anchor. The anchor only moves forward: a replayed older webhook never
// rewinds it.
func (ing *Ingester) touchConversation(ws *models.Workspace, contact *models.Contact, receivedAt time.Time) *models.Conversation {
	var conv models.Conversation
	err := ing.DB.Where("workspace_id = ? AND contact_id = ?", ws.ID, contact.ID).First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		conv = models.Conversation{
			WorkspaceID:           ws.ID,
			ContactID:             contact.ID,
			Status:                models.ConversationStatusOpen,
			UnreadCount:           1,
			LastCustomerMessageAt: &receivedAt,
			LastMessageAt:         &receivedAt,
		}
		if createErr := ing.DB.Create(&conv).Error; createErr != nil {
			// Concurrent inbound created it first.
			if retryErr := ing.DB.Where("workspace_id = ? AND contact_id = ?", ws.ID, contact.ID).First(&conv).Error; retryErr != nil {
				ing.Log.Error("Conversation upsert failed", "error", createErr, "contact_id", contact.ID)
				return nil
			}
		} else {
			return &conv
		}
	} else if err != nil {
		ing.Log.Error("Conversation lookup failed", "error", err, "contact_id", contact.ID)
		return nil
	}

	updates := map[string]interface{}{
		"status":       models.ConversationStatusOpen,
		"unread_count": gorm.Expr("unread_count + 1"),
	}
	if conv.LastCustomerMessageAt == nil || receivedAt.After(*conv.LastCustomerMessageAt) {
		updates["last_customer_message_at"] = &receivedAt
		conv.LastCustomerMessageAt = &receivedAt
	}
	if conv.LastMessageAt == nil || receivedAt.After(*conv.LastMessageAt) {
		updates["last_message_at"] = &receivedAt
		conv.LastMessageAt = &receivedAt
	}
	if err := ing.DB.Model(&conv).Updates(updates).Error; err != nil {
		ing.Log.Error("Conversation update failed", "error", err, "conversation_id", conv.ID)
	}
	conv.Status = models.ConversationStatusOpen
	return &conv
}

// recordReply marks the replied-to campaign message and charges the
// campaign's replied counter once.
func (ing *Ingester) recordReply(ws *models.Workspace, repliedToProviderID string) {
	var original models.Message
	err := ing.DB.Where("workspace_id = ? AND provider_message_id = ?", ws.ID, repliedToProviderID).
		First(&original).Error
	if err != nil || original.CampaignID == nil || original.ContactID == nil {
		return
	}

	res := ing.DB.Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND contact_id = ? AND status <> ?",
			*original.CampaignID, *original.ContactID, models.MessageStatusReplied).
		Update("status", models.MessageStatusReplied)
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}
	ing.DB.Model(&models.Campaign{}).Where("id = ?", *original.CampaignID).
		Update("replied_count", gorm.Expr("replied_count + 1"))
}

// processTemplateEvent applies a provider template-state update and
// pauses every running campaign on a template that lost approval.
func (ing *Ingester) processTemplateEvent(ctx context.Context, logRow *models.WebhookLog, wabaID string, value *whatsapp.WebhookValue) {
	var ws models.Workspace
	err := ing.DB.Where("business_account_id = ?", wabaID).First(&ws).Error
	if err != nil {
		ing.finishLog(logRow, nil, models.WebhookOutcomeUnresolved, "unknown business account id")
		return
	}

	var tpl models.Template
	query := ing.DB.Where("workspace_id = ? AND name = ?", ws.ID, value.MessageTemplateName)
	if value.MessageTemplateLang != "" {
		query = query.Where("language = ?", value.MessageTemplateLang)
	}
	if err := query.First(&tpl).Error; err != nil {
		ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeUnresolved, "unknown template")
		return
	}

	prevStatus := tpl.Status
	newStatus := mapTemplateEvent(value.Event)
	if newStatus == "" || newStatus == prevStatus {
		ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeProcessed, "")
		return
	}

	updates := map[string]interface{}{"status": newStatus}
	if value.Reason != "" {
		updates["rejection_reason"] = value.Reason
	}
	if err := ing.DB.Model(&tpl).Updates(updates).Error; err != nil {
		ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeError, err.Error())
		return
	}
	ing.Log.Info("Template state updated", "template", tpl.Name, "from", prevStatus, "to", newStatus)

	if prevStatus == models.TemplateStatusApproved && newStatus != models.TemplateStatusApproved {
		paused, err := ing.Campaigns.PauseAllForTemplate(ctx, tpl.ID, models.PauseReasonTemplateRevoked)
		if err != nil {
			ing.Log.Error("Failed to pause campaigns for revoked template", "error", err, "template_id", tpl.ID)
		} else if paused > 0 {
			ing.Log.Warn("Paused campaigns for revoked template", "template_id", tpl.ID, "count", paused)
		}
	}
	ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeProcessed, "")
}

// processQualityEvent syncs quality rating and messaging tier; a drop
// into RED or a tier downgrade pauses the workspace's running campaigns.
func (ing *Ingester) processQualityEvent(ctx context.Context, logRow *models.WebhookLog, wabaID string, value *whatsapp.WebhookValue) {
	ws, err := ing.resolveByPhoneOrWABA(ctx, value.Metadata.PhoneNumberID, wabaID)
	if err != nil {
		ing.finishLog(logRow, nil, models.WebhookOutcomeUnresolved, "unknown workspace")
		return
	}

	quality := ws.QualityRating
	switch value.Event {
	case "FLAGGED":
		quality = models.QualityRed
	case "UNFLAGGED":
		quality = models.QualityGreen
	}
	tier := ws.MessagingTier
	if value.CurrentLimit != "" {
		tier = value.CurrentLimit
	}

	if err := ing.Router.SyncStatus(ctx, ws.ID, quality, tier, ""); err != nil {
		ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeError, err.Error())
		return
	}

	reason := ""
	if quality == models.QualityRed && ws.QualityRating != models.QualityRed {
		reason = models.PauseReasonQualityDegraded
	} else if tierDowngraded(ws.MessagingTier, tier) {
		reason = models.PauseReasonTierDowngraded
	}
	if reason != "" {
		paused, err := ing.Campaigns.PauseAllForWorkspace(ctx, ws.ID, reason)
		if err != nil {
			ing.Log.Error("Failed to pause campaigns on quality event", "error", err, "workspace_id", ws.ID)
		} else if paused > 0 {
			ing.Log.Warn("Paused campaigns on quality event", "workspace_id", ws.ID, "reason", reason, "count", paused)
		}
	}
	ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeProcessed, "")
}

// processAccountEvent handles bans: mark the workspace blocked and pause
// everything running.
func (ing *Ingester) processAccountEvent(ctx context.Context, logRow *models.WebhookLog, wabaID string, value *whatsapp.WebhookValue) {
	var ws models.Workspace
	if err := ing.DB.Where("business_account_id = ?", wabaID).First(&ws).Error; err != nil {
		ing.finishLog(logRow, nil, models.WebhookOutcomeUnresolved, "unknown business account id")
		return
	}

	if value.BanInfo == nil {
		ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeProcessed, "")
		return
	}

	banned := value.BanInfo.WabaBanState != "" && value.BanInfo.WabaBanState != "UNBANNED"
	if err := ing.DB.Model(&ws).Update("is_blocked", banned).Error; err != nil {
		ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeError, err.Error())
		return
	}
	ing.Router.Invalidate(ctx, ws.PhoneNumberID)

	if banned {
		paused, err := ing.Campaigns.PauseAllForWorkspace(ctx, ws.ID, models.PauseReasonAccountBlocked)
		if err != nil {
			ing.Log.Error("Failed to pause campaigns on ban", "error", err, "workspace_id", ws.ID)
		} else {
			ing.Log.Warn("Workspace banned, campaigns paused", "workspace_id", ws.ID, "count", paused)
		}
	}
	ing.finishLog(logRow, &ws.ID, models.WebhookOutcomeProcessed, "")
}

func (ing *Ingester) resolveByPhoneOrWABA(ctx context.Context, phoneNumberID, wabaID string) (*models.Workspace, error) {
	if phoneNumberID != "" {
		if ws, err := ing.Router.Resolve(ctx, phoneNumberID); err == nil {
			return ws, nil
		}
	}
	var ws models.Workspace
	if err := ing.DB.Where("business_account_id = ?", wabaID).First(&ws).Error; err != nil {
		return nil, err
	}
	return &ws, nil
}

func (ing *Ingester) finishLog(logRow *models.WebhookLog, workspaceID *uuid.UUID, outcome, errMsg string) {
	updates := map[string]interface{}{"outcome": outcome}
	if workspaceID != nil {
		updates["workspace_id"] = *workspaceID
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if err := ing.DB.Model(logRow).Updates(updates).Error; err != nil {
		ing.Log.Error("Failed to finish webhook log", "error", err, "log_id", logRow.ID)
	}
}

func mapTemplateEvent(event string) string {
	switch event {
	case "APPROVED":
		return models.TemplateStatusApproved
	case "REJECTED":
		return models.TemplateStatusRejected
	case "PAUSED", "FLAGGED":
		return models.TemplateStatusPaused
	case "DISABLED", "REVOKED":
		return models.TemplateStatusRevoked
	case "PENDING":
		return models.TemplateStatusPending
	default:
		return ""
	}
}

// tierDowngraded compares daily ceilings; unlimited never downgrades to
// itself.
func tierDowngraded(oldTier, newTier string) bool {
	if oldTier == newTier {
		return false
	}
	oldCap, newCap := models.TierDailyCap(oldTier), models.TierDailyCap(newTier)
	if oldCap == 0 { // was unlimited
		return newCap > 0
	}
	return newCap > 0 && newCap < oldCap
}

func classifyInbound(wm *whatsapp.WebhookMessage) (msgType, content, mediaID string) {
	switch wm.Type {
	case "text":
		if wm.Text != nil {
			return models.MessageTypeText, wm.Text.Body, ""
		}
		return models.MessageTypeText, "", ""
	case "image":
		return mediaFields(models.MessageTypeImage, wm.Image)
	case "video":
		return mediaFields(models.MessageTypeVideo, wm.Video)
	case "document":
		return mediaFields(models.MessageTypeDocument, wm.Document)
	case "audio":
		return mediaFields(models.MessageTypeAudio, wm.Audio)
	default:
		return models.MessageTypeText, "", ""
	}
}

func mediaFields(msgType string, media *whatsapp.WebhookMedia) (string, string, string) {
	if media == nil {
		return msgType, "", ""
	}
	return msgType, media.Caption, media.ID
}

func profileName(value *whatsapp.WebhookValue, waID string) string {
	for _, c := range value.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

func toJSONB(v interface{}) models.JSONB {
	data, err := json.Marshal(v)
	if err != nil {
		return models.JSONB{}
	}
	out := models.JSONB{}
	if err := json.Unmarshal(data, &out); err != nil {
		return models.JSONB{}
	}
	return out
}
