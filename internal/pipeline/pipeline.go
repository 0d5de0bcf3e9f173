// Package pipeline implements the template send path: approval and
// arity validation, tenant eligibility, provider payload assembly,
// idempotent emission, and outbound message persistence.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/contactutil"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/templateutil"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/waveline/waveline/pkg/whatsapp"
)

// MaxBulkRecipients caps one bulk call.
const MaxBulkRecipients = 1000

// Service is the template send pipeline.
type Service struct {
	DB     *gorm.DB
	Client *whatsapp.Client
	Cfg    *config.Config
	Log    logf.Logger
}

// New creates the pipeline service.
func New(db *gorm.DB, client *whatsapp.Client, cfg *config.Config, log logf.Logger) *Service {
	return &Service{DB: db, Client: client, Cfg: cfg, Log: log}
}

// SendInput describes one template send.
type SendInput struct {
	WorkspaceID  uuid.UUID `json:"workspace_id"`
	TemplateID   uuid.UUID `json:"template_id"`
	TemplateName string    `json:"template_name"`
	Phone        string    `json:"phone"`

	HeaderParams []string `json:"header_params,omitempty"`
	BodyParams   []string `json:"body_params,omitempty"`
	ButtonParams []string `json:"button_params,omitempty"`

	// HeaderMediaID overrides the template's header media when set.
	HeaderMediaID string `json:"header_media_id,omitempty"`

	// Attribution, set by the campaign worker.
	ContactID  *uuid.UUID `json:"contact_id,omitempty"`
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	BatchID    *uuid.UUID `json:"batch_id,omitempty"`
}

// SendResult is the outcome of a successful or skipped send.
type SendResult struct {
	MessageID         uuid.UUID `json:"message_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	// Skipped is true when an idempotency hit suppressed the emission.
	Skipped bool `json:"skipped"`
}

// SendTemplate validates and emits one template message. Exactly one of
// two outcomes: a durable Message row with the provider id, or a
// classified error with no charged send. A CampaignMessage already in
// sent/delivered/read short-circuits with the existing id.
func (s *Service) SendTemplate(ctx context.Context, in *SendInput) (*SendResult, error) {
	ws, err := s.loadWorkspace(in.WorkspaceID)
	if err != nil {
		return nil, err
	}

	tpl, err := s.loadTemplate(in)
	if err != nil {
		return nil, err
	}
	if !tpl.IsSendable() {
		return nil, waerr.Newf(waerr.KindTemplateNotApproved, "template %q is %s", tpl.Name, tpl.Status)
	}

	if err := validateArity(tpl, in); err != nil {
		return nil, err
	}

	phone, err := contactutil.NormalizePhone(in.Phone)
	if err != nil {
		return nil, waerr.Wrap(waerr.KindInvalidRecipient, "invalid recipient phone", err)
	}

	// Idempotency: a recipient already charged a send never re-emits.
	if in.CampaignID != nil && in.ContactID != nil {
		var cm models.CampaignMessage
		err := s.DB.Where("campaign_id = ? AND contact_id = ?", *in.CampaignID, *in.ContactID).
			First(&cm).Error
		if err == nil && cm.AlreadySent() {
			s.Log.Debug("Skipping already-sent recipient", "campaign_id", *in.CampaignID, "contact_id", *in.ContactID)
			return &SendResult{MessageID: cm.ID, ProviderMessageID: cm.ProviderMessageID, Skipped: true}, nil
		}
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("campaign message lookup failed: %w", err)
		}
	}

	components := BuildComponents(tpl, in)
	account := &whatsapp.Account{
		PhoneID:     ws.PhoneNumberID,
		BusinessID:  ws.BusinessAccountID,
		APIVersion:  s.Cfg.WhatsApp.APIVersion,
		AccessToken: ws.AccessToken,
	}

	providerID, err := s.Client.SendTemplateMessageWithComponents(ctx, account, phone, tpl.Name, tpl.Language, components)
	if err != nil {
		if apiErr, ok := whatsapp.AsAPIError(err); ok {
			return nil, waerr.Wrap(waerr.KindMetaAPIError, apiErr.Message, err)
		}
		return nil, waerr.Wrap(waerr.KindMetaAPIError, "provider call failed", err)
	}

	now := time.Now()
	msg := models.Message{
		WorkspaceID:       in.WorkspaceID,
		ContactID:         in.ContactID,
		Direction:         models.DirectionOutbound,
		MessageType:       models.MessageTypeTemplate,
		Status:            models.MessageStatusSent,
		Content:           templateutil.Fill(tpl.BodyContent, in.BodyParams),
		TemplateName:      tpl.Name,
		ProviderMessageID: providerID,
		CampaignID:        in.CampaignID,
		BatchID:           in.BatchID,
		SentAt:            &now,
	}
	tplID := tpl.ID
	msg.TemplateID = &tplID
	if err := s.DB.Create(&msg).Error; err != nil {
		// The send already charged; the webhook path reconciles via the
		// provider message id.
		s.Log.Error("Failed to persist sent message", "error", err, "provider_message_id", providerID)
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	return &SendResult{MessageID: msg.ID, ProviderMessageID: providerID}, nil
}

// BulkResult is one recipient's outcome in a bulk send.
type BulkResult struct {
	Phone             string `json:"phone"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// SendBulk fans SendTemplate across recipients with a short pause
// between sends. Individual failures are recorded per recipient, not
// propagated.
func (s *Service) SendBulk(ctx context.Context, in *SendInput, phones []string) ([]BulkResult, error) {
	if len(phones) == 0 {
		return nil, waerr.New(waerr.KindInvalidRecipient, "no recipients")
	}
	if len(phones) > MaxBulkRecipients {
		return nil, waerr.Newf(waerr.KindInvalidRecipient, "%d recipients exceeds the bulk cap of %d", len(phones), MaxBulkRecipients)
	}

	pause := time.Duration(s.Cfg.Campaigns.InterMessagePauseMs) * time.Millisecond
	results := make([]BulkResult, 0, len(phones))
	for i, phone := range phones {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		one := *in
		one.Phone = phone
		res, err := s.SendTemplate(ctx, &one)
		if err != nil {
			results = append(results, BulkResult{Phone: phone, Error: err.Error()})
		} else {
			results = append(results, BulkResult{Phone: phone, ProviderMessageID: res.ProviderMessageID})
		}

		if i < len(phones)-1 && pause > 0 {
			time.Sleep(pause)
		}
	}
	return results, nil
}

// Preview computes the filled body text and the exact provider payload
// without sending.
type Preview struct {
	FilledBody string                 `json:"filled_body"`
	Payload    map[string]interface{} `json:"payload"`
}

// PreviewTemplate validates the input and returns the send preview.
func (s *Service) PreviewTemplate(_ context.Context, in *SendInput) (*Preview, error) {
	tpl, err := s.loadTemplate(in)
	if err != nil {
		return nil, err
	}
	if err := validateArity(tpl, in); err != nil {
		return nil, err
	}

	phone := in.Phone
	if phone != "" {
		if normalized, err := contactutil.NormalizePhone(phone); err == nil {
			phone = normalized
		}
	}

	return &Preview{
		FilledBody: templateutil.Fill(tpl.BodyContent, in.BodyParams),
		Payload:    whatsapp.BuildTemplatePayload(phone, tpl.Name, tpl.Language, BuildComponents(tpl, in)),
	}, nil
}

func (s *Service) loadWorkspace(id uuid.UUID) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.DB.First(&ws, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, waerr.New(waerr.KindWorkspaceNotConfigured, "workspace not found")
		}
		return nil, fmt.Errorf("workspace lookup failed: %w", err)
	}
	if ws.PhoneNumberID == "" || ws.PhoneStatus == models.PhoneDisconnected {
		return nil, waerr.New(waerr.KindPhoneNotConfigured, "workspace has no connected phone")
	}
	if !ws.IsConnected() {
		return nil, waerr.New(waerr.KindWorkspaceNotConfigured, "workspace is not connected to WhatsApp")
	}
	return &ws, nil
}

// loadTemplate resolves by id when given, by (workspace, name)
// otherwise.
func (s *Service) loadTemplate(in *SendInput) (*models.Template, error) {
	var tpl models.Template
	var err error
	if in.TemplateID != uuid.Nil {
		err = s.DB.First(&tpl, "id = ?", in.TemplateID).Error
		if err == nil && tpl.WorkspaceID != in.WorkspaceID {
			return nil, waerr.New(waerr.KindTemplateOwnershipMismatch, "template belongs to another workspace")
		}
	} else {
		err = s.DB.Where("workspace_id = ? AND name = ?", in.WorkspaceID, in.TemplateName).
			First(&tpl).Error
	}
	if err == gorm.ErrRecordNotFound {
		return nil, waerr.New(waerr.KindTemplateNotFound, "template not found")
	}
	if err != nil {
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}
	return &tpl, nil
}

// validateArity checks the supplied parameter counts against the
// template's per-region arities.
func validateArity(tpl *models.Template, in *SendInput) error {
	if len(in.BodyParams) != tpl.BodyVariableCount {
		return waerr.Newf(waerr.KindVariableCountMismatch,
			"body expects %d variables, got %d", tpl.BodyVariableCount, len(in.BodyParams))
	}
	if tpl.HeaderType == models.HeaderTypeText && len(in.HeaderParams) != tpl.HeaderVariableCount {
		return waerr.Newf(waerr.KindVariableCountMismatch,
			"header expects %d variables, got %d", tpl.HeaderVariableCount, len(in.HeaderParams))
	}
	if len(in.ButtonParams) != tpl.ButtonVariableCount {
		return waerr.Newf(waerr.KindVariableCountMismatch,
			"buttons expect %d variables, got %d", tpl.ButtonVariableCount, len(in.ButtonParams))
	}
	return nil
}

// BuildComponents assembles the provider component list for a template
// send: header first (text params or media reference), positional body
// params, then url button parameters by index.
func BuildComponents(tpl *models.Template, in *SendInput) []map[string]interface{} {
	var components []map[string]interface{}

	switch tpl.HeaderType {
	case models.HeaderTypeText:
		if len(in.HeaderParams) > 0 {
			components = append(components, map[string]interface{}{
				"type":       "header",
				"parameters": textParams(in.HeaderParams),
			})
		}
	case models.HeaderTypeImage, models.HeaderTypeVideo, models.HeaderTypeDocument:
		mediaKey := map[string]string{
			models.HeaderTypeImage:    "image",
			models.HeaderTypeVideo:    "video",
			models.HeaderTypeDocument: "document",
		}[tpl.HeaderType]

		media := map[string]interface{}{}
		if in.HeaderMediaID != "" {
			media["id"] = in.HeaderMediaID
		} else if tpl.HeaderContent != "" {
			media["link"] = tpl.HeaderContent
		}
		if len(media) > 0 {
			components = append(components, map[string]interface{}{
				"type": "header",
				"parameters": []map[string]interface{}{
					{"type": mediaKey, mediaKey: media},
				},
			})
		}
	}

	if len(in.BodyParams) > 0 {
		components = append(components, map[string]interface{}{
			"type":       "body",
			"parameters": textParams(in.BodyParams),
		})
	}

	for i, param := range in.ButtonParams {
		components = append(components, map[string]interface{}{
			"type":       "button",
			"sub_type":   "url",
			"index":      i,
			"parameters": textParams([]string{param}),
		})
	}

	return components
}

func textParams(values []string) []map[string]interface{} {
	params := make([]map[string]interface{}, 0, len(values))
	for _, v := range values {
		params = append(params, map[string]interface{}{"type": "text", "text": v})
	}
	return params
}
