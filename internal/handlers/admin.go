package handlers

import (
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"

	"github.com/waveline/waveline/internal/middleware"
)

// KillSwitchRequest activates or clears the global kill switch.
type KillSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// PhoneAssignRequest binds a provider phone number to a workspace.
type PhoneAssignRequest struct {
	WorkspaceID       uuid.UUID `json:"workspace_id" validate:"required"`
	PhoneNumberID     string    `json:"phone_number_id" validate:"required"`
	BusinessAccountID string    `json:"business_account_id"`
}

// PhoneUnassignRequest releases a workspace's phone binding.
type PhoneUnassignRequest struct {
	WorkspaceID uuid.UUID `json:"workspace_id" validate:"required"`
}

// SyncStatusRequest overrides provider-reported workspace health.
type SyncStatusRequest struct {
	WorkspaceID   uuid.UUID `json:"workspace_id" validate:"required"`
	QualityRating string    `json:"quality_rating"`
	MessagingTier string    `json:"messaging_tier"`
	PhoneStatus   string    `json:"phone_status"`
}

// requireAdmin rejects non-admin callers. Returns false after sending
// the error envelope.
func (a *App) requireAdmin(r *fastglue.Request) bool {
	if !middleware.IsAdmin(r) {
		_ = r.SendErrorEnvelope(fasthttp.StatusForbidden, "Admin access required", nil, "")
		return false
	}
	return true
}

// GetKillSwitch returns the global kill switch state.
func (a *App) GetKillSwitch(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}

	state, err := a.Campaigns.KillSwitch(r.RequestCtx)
	if err != nil {
		return a.sendError(r, err, "Failed to read kill switch")
	}

	return r.SendEnvelope(state)
}

// SetKillSwitch activates or clears the global kill switch.
func (a *App) SetKillSwitch(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}

	var req KillSwitchRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}
	if req.Active && req.Reason == "" {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Reason is required when activating", nil, "")
	}

	if err := a.Campaigns.SetKillSwitch(r.RequestCtx, req.Active, req.Reason, a.actor(r)); err != nil {
		return a.sendError(r, err, "Failed to update kill switch")
	}

	return r.SendEnvelope(map[string]bool{"active": req.Active})
}

// ListLocks returns every held campaign execution lock.
func (a *App) ListLocks(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}

	locks, err := a.Locks.ListActive(r.RequestCtx)
	if err != nil {
		return a.sendError(r, err, "Failed to list locks")
	}

	return r.SendEnvelope(map[string]interface{}{
		"locks": locks,
		"total": len(locks),
	})
}

// ForceReleaseLock releases a campaign lock regardless of owner. Meant
// for recovering from a crashed worker holding a stale lease.
func (a *App) ForceReleaseLock(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	if err := a.Locks.Release(r.RequestCtx, id, "", true); err != nil {
		return a.sendError(r, err, "Failed to release lock")
	}

	a.Log.Warn("Lock force-released", "campaign_id", id, "actor", a.actor(r))
	return r.SendEnvelope(map[string]bool{"released": true})
}

// AssignPhone binds a phone number id to a workspace for routing.
func (a *App) AssignPhone(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}

	var req PhoneAssignRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}
	if req.WorkspaceID == uuid.Nil || req.PhoneNumberID == "" {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "workspace_id and phone_number_id are required", nil, "")
	}

	if err := a.Router.AssignPhone(r.RequestCtx, req.WorkspaceID, req.PhoneNumberID, req.BusinessAccountID); err != nil {
		return a.sendError(r, err, "Failed to assign phone")
	}

	return r.SendEnvelope(map[string]bool{"assigned": true})
}

// UnassignPhone releases a workspace's phone binding.
func (a *App) UnassignPhone(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}

	var req PhoneUnassignRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}
	if req.WorkspaceID == uuid.Nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "workspace_id is required", nil, "")
	}

	if err := a.Router.UnassignPhone(r.RequestCtx, req.WorkspaceID); err != nil {
		return a.sendError(r, err, "Failed to unassign phone")
	}

	return r.SendEnvelope(map[string]bool{"unassigned": true})
}

// SyncWorkspaceStatus applies quality, tier, and phone status updates
// out of band, mirroring what the provider webhooks would deliver.
func (a *App) SyncWorkspaceStatus(r *fastglue.Request) error {
	if !a.requireAdmin(r) {
		return nil
	}

	var req SyncStatusRequest
	if err := a.decodeRequest(r, &req); err != nil {
		return nil
	}
	if req.WorkspaceID == uuid.Nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "workspace_id is required", nil, "")
	}

	err := a.Router.SyncStatus(r.RequestCtx, req.WorkspaceID, req.QualityRating, req.MessagingTier, req.PhoneStatus)
	if err != nil {
		return a.sendError(r, err, "Failed to sync workspace status")
	}

	return r.SendEnvelope(map[string]bool{"synced": true})
}
