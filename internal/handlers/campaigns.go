package handlers

import (
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"

	"github.com/waveline/waveline/internal/campaigns"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/waerr"
)

// PauseRequest carries the operator-supplied pause reason.
type PauseRequest struct {
	Reason string `json:"reason"`
}

func queryInt(r *fastglue.Request, name string, def int) int {
	v, err := r.RequestCtx.QueryArgs().GetUint(name)
	if err != nil {
		return def
	}
	return v
}

// ListCampaigns returns a page of campaigns, optionally filtered by status.
func (a *App) ListCampaigns(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	filter := campaigns.ListFilter{
		Status: string(r.RequestCtx.QueryArgs().Peek("status")),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 20),
	}

	list, total, err := a.Campaigns.List(r.RequestCtx, wsID, filter)
	if err != nil {
		return a.sendError(r, err, "Failed to list campaigns")
	}

	return r.SendEnvelope(map[string]interface{}{
		"campaigns": list,
		"total":     total,
		"page":      filter.Page,
		"limit":     filter.Limit,
	})
}

// CreateCampaign creates a DRAFT or SCHEDULED campaign.
func (a *App) CreateCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	var in campaigns.CreateInput
	if err := a.decodeRequest(r, &in); err != nil {
		return nil
	}

	campaign, err := a.Campaigns.Create(r.RequestCtx, wsID, &in, a.actor(r))
	if err != nil {
		return a.sendError(r, err, "Failed to create campaign")
	}

	return r.SendEnvelope(campaign)
}

// GetCampaign returns one campaign.
func (a *App) GetCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	campaign, err := a.Campaigns.Get(r.RequestCtx, id, wsID)
	if err != nil {
		return a.sendError(r, err, "Failed to fetch campaign")
	}

	return r.SendEnvelope(campaign)
}

// UpdateCampaign mutates a DRAFT or SCHEDULED campaign.
func (a *App) UpdateCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	var in campaigns.UpdateInput
	if err := a.decodeRequest(r, &in); err != nil {
		return nil
	}

	campaign, err := a.Campaigns.Update(r.RequestCtx, id, wsID, &in)
	if err != nil {
		return a.sendError(r, err, "Failed to update campaign")
	}

	return r.SendEnvelope(campaign)
}

// DeleteCampaign deletes a campaign; RUNNING campaigns are refused.
func (a *App) DeleteCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	if err := a.Campaigns.Delete(r.RequestCtx, id, wsID); err != nil {
		return a.sendError(r, err, "Failed to delete campaign")
	}

	return r.SendEnvelope(map[string]bool{"deleted": true})
}

// StartCampaign runs preflight and begins execution. A failed preflight
// returns the full report so the operator can see every failed check.
func (a *App) StartCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	report, err := a.Campaigns.Start(r.RequestCtx, id, wsID, a.actor(r))
	if err != nil {
		if waerr.Is(err, waerr.KindPreflightFailed) && report != nil {
			return r.SendErrorEnvelope(fasthttp.StatusUnprocessableEntity,
				"Preflight checks failed", report, fastglue.ErrorType(waerr.KindPreflightFailed))
		}
		return a.sendError(r, err, "Failed to start campaign")
	}

	return r.SendEnvelope(map[string]interface{}{
		"started":   true,
		"preflight": report,
	})
}

// PauseCampaign pauses a RUNNING campaign.
func (a *App) PauseCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	var req PauseRequest
	if len(r.RequestCtx.PostBody()) > 0 {
		if err := a.decodeRequest(r, &req); err != nil {
			return nil
		}
	}

	if err := a.Campaigns.Pause(r.RequestCtx, id, wsID, a.actor(r), req.Reason); err != nil {
		return a.sendError(r, err, "Failed to pause campaign")
	}

	return r.SendEnvelope(map[string]bool{"paused": true})
}

// ResumeCampaign resumes a PAUSED campaign from where it stopped.
func (a *App) ResumeCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	if err := a.Campaigns.Resume(r.RequestCtx, id, wsID, a.actor(r)); err != nil {
		return a.sendError(r, err, "Failed to resume campaign")
	}

	return r.SendEnvelope(map[string]bool{"resumed": true})
}

// GetCampaignProgress returns counters, rates, batch progress, and
// queue depths for a campaign.
func (a *App) GetCampaignProgress(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	progress, err := a.Campaigns.GetProgress(r.RequestCtx, id, wsID)
	if err != nil {
		return a.sendError(r, err, "Failed to fetch campaign progress")
	}

	return r.SendEnvelope(progress)
}

// GetCampaignSummary returns campaign counts grouped by status.
func (a *App) GetCampaignSummary(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}

	var rows []struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	err = a.DB.Model(&models.Campaign{}).
		Select("status, COUNT(*) as count").
		Where("workspace_id = ?", wsID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return a.sendError(r, err, "Failed to fetch campaign summary")
	}

	summary := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		summary[row.Status] = row.Count
		total += row.Count
	}

	return r.SendEnvelope(map[string]interface{}{
		"by_status": summary,
		"total":     total,
	})
}

// GetCampaignMessages returns per-recipient delivery state.
func (a *App) GetCampaignMessages(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	messages, total, err := a.Campaigns.Messages(r.RequestCtx, id, wsID, page, limit)
	if err != nil {
		return a.sendError(r, err, "Failed to fetch campaign messages")
	}

	return r.SendEnvelope(map[string]interface{}{
		"messages": messages,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// PreflightCampaign runs the preflight checks without starting the
// campaign, so operators can dry-run before committing.
func (a *App) PreflightCampaign(r *fastglue.Request) error {
	wsID, err := a.getWorkspaceID(r)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusUnauthorized, "Unauthorized", nil, "")
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	campaign, err := a.Campaigns.Get(r.RequestCtx, id, wsID)
	if err != nil {
		return a.sendError(r, err, "Failed to fetch campaign")
	}

	var ws models.Workspace
	if err := a.DB.Where("id = ?", wsID).First(&ws).Error; err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusNotFound, "Workspace not found", nil, "")
	}

	report, err := a.Preflight.Run(campaign, &ws)
	if err != nil {
		return a.sendError(r, err, "Preflight failed")
	}

	return r.SendEnvelope(report)
}
