package handlers

import (
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"

	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/pipeline"
)

// TemplateSendRequest represents a single template send.
type TemplateSendRequest struct {
	TemplateID    string   `json:"template_id"`
	TemplateName  string   `json:"template_name"`
	Phone         string   `json:"phone"`
	HeaderParams  []string `json:"header_params,omitempty"`
	BodyParams    []string `json:"body_params,omitempty"`
	ButtonParams  []string `json:"button_params,omitempty"`
	HeaderMediaID string   `json:"header_media_id,omitempty"`
}

// BulkSendRequest fans one template across many recipients.
type BulkSendRequest struct {
	TemplateSendRequest
	Phones []string `json:"phones"`
}

func (req *TemplateSendRequest) toSendInput(wsID uuid.UUID) (*pipeline.SendInput, error) {
	in := &pipeline.SendInput{
		WorkspaceID:   wsID,
		TemplateName:  req.TemplateName,
		Phone:         req.Phone,
		HeaderParams:  req.HeaderParams,
		BodyParams:    req.BodyParams,
		ButtonParams:  req.ButtonParams,
		HeaderMediaID: req.HeaderMediaID,
	}
	if req.TemplateID != "" {
		id, err := uuid.Parse(req.TemplateID)
		if err != nil {
			return nil, err
		}
		in.TemplateID = id
	}
	return in, nil
}

// SendTemplateMessage sends one template message through the pipeline.
func (a *App) SendTemplateMessage(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	var req TemplateSendRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}

	in, err := req.toSendInput(wsID)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid template ID", nil, "")
	}

	result, err := a.Pipeline.SendTemplate(r.RequestCtx, in)
	if err != nil {
		return a.sendError(r, err, "Failed to send message")
	}

	return r.SendEnvelope(result)
}

// SendBulkTemplateMessages sends one template to many recipients,
// recording per-recipient outcomes.
func (a *App) SendBulkTemplateMessages(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	var req BulkSendRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}

	in, err := req.toSendInput(wsID)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid template ID", nil, "")
	}

	results, err := a.Pipeline.SendBulk(r.RequestCtx, in, req.Phones)
	if err != nil {
		return a.sendError(r, err, "Failed to send bulk messages")
	}

	sent := 0
	for _, res := range results {
		if res.Error == "" {
			sent++
		}
	}

	return r.SendEnvelope(map[string]interface{}{
		"results": results,
		"total":   len(results),
		"sent":    sent,
		"failed":  len(results) - sent,
	})
}

// PreviewTemplateMessage returns the filled body and provider payload
// without sending anything.
func (a *App) PreviewTemplateMessage(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	var req TemplateSendRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}

	in, err := req.toSendInput(wsID)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid template ID", nil, "")
	}

	preview, err := a.Pipeline.PreviewTemplate(r.RequestCtx, in)
	if err != nil {
		return a.sendError(r, err, "Failed to preview message")
	}

	return r.SendEnvelope(preview)
}

// ListSendableTemplates returns the workspace's APPROVED templates.
func (a *App) ListSendableTemplates(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	var templates []models.Template
	err = a.DB.Where("workspace_id = ? AND status = ?", wsID, models.TemplateStatusApproved).
		Order("name ASC").
		Find(&templates).Error
	if err != nil {
		a.Log.Error("Failed to list templates", "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to list templates", nil, "")
	}

	return r.SendEnvelope(map[string]interface{}{
		"templates": templates,
		"total":     len(templates),
	})
}

// GetTemplateInfo returns one template with its variable arities.
func (a *App) GetTemplateInfo(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid template ID", nil, "")
	}

	var tpl models.Template
	if err := a.DB.Where("id = ? AND workspace_id = ?", id, wsID).First(&tpl).Error; err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusNotFound, "Template not found", nil, "")
	}

	return r.SendEnvelope(tpl)
}
