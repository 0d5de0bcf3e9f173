// Package campaigns orchestrates the campaign lifecycle: create,
// start, pause, resume, system pause, complete, and fail, integrating
// the execution lock, preflight validation, the job queue, and the
// audit trail.
package campaigns

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/lock"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/preflight"
	"github.com/waveline/waveline/internal/queue"
	"github.com/waveline/waveline/internal/templateutil"
	"github.com/waveline/waveline/internal/waerr"
)

// SystemActor marks audit entries written by the platform itself.
const SystemActor = "system"

// Service is the campaign execution orchestrator.
type Service struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Lock      *lock.Service
	Preflight *preflight.Validator
	Queue     *queue.Publisher
	Cfg       *config.Config
	Log       logf.Logger

	// ownerID identifies this process as a lock holder.
	ownerID string
}

// New creates the campaign service.
func New(db *gorm.DB, rdb *redis.Client, lk *lock.Service, pf *preflight.Validator, pub *queue.Publisher, cfg *config.Config, log logf.Logger) *Service {
	hostname, _ := os.Hostname()
	return &Service{
		DB:        db,
		Redis:     rdb,
		Lock:      lk,
		Preflight: pf,
		Queue:     pub,
		Cfg:       cfg,
		Log:       log,
		ownerID:   fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// OwnerID returns this process's lock owner identity.
func (s *Service) OwnerID() string {
	return s.ownerID
}

func (s *Service) lockTTL() time.Duration {
	return time.Duration(s.Cfg.Campaigns.LockTTLHours) * time.Hour
}

// CreateInput describes a new campaign.
type CreateInput struct {
	Name              string            `json:"name"`
	TemplateID        uuid.UUID         `json:"template_id"`
	RecipientSpecKind string            `json:"recipient_spec_kind"`
	RecipientIDs      []string          `json:"recipient_ids,omitempty"`
	RecipientTags     []string          `json:"recipient_tags,omitempty"`
	RecipientSegment  string            `json:"recipient_segment,omitempty"`
	VariableMapping   map[string]string `json:"variable_mapping,omitempty"`
	HeaderMediaID     string            `json:"header_media_id,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduled_at,omitempty"`
	BatchSize         int               `json:"batch_size,omitempty"`
}

// Create validates the input, snapshots the template, and persists the
// campaign as DRAFT or SCHEDULED. Scheduled campaigns get a delayed
// scheduled-start job.
func (s *Service) Create(ctx context.Context, workspaceID uuid.UUID, in *CreateInput, actor string) (*models.Campaign, error) {
	var tpl models.Template
	err := s.DB.Where("id = ? AND workspace_id = ?", in.TemplateID, workspaceID).First(&tpl).Error
	if err == gorm.ErrRecordNotFound {
		return nil, waerr.New(waerr.KindTemplateNotFound, "template not found")
	}
	if err != nil {
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}
	if !tpl.IsSendable() {
		return nil, waerr.Newf(waerr.KindTemplateNotApproved, "template %q is %s", tpl.Name, tpl.Status)
	}

	status := models.CampaignStatusDraft
	if in.ScheduledAt != nil {
		if in.ScheduledAt.Before(time.Now()) {
			return nil, waerr.New(waerr.KindInvalidStatus, "scheduled time is in the past")
		}
		status = models.CampaignStatusScheduled
	}

	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = s.Cfg.Campaigns.BatchSize
	}

	variableCount := tpl.BodyVariableCount
	if variableCount == 0 {
		variableCount = templateutil.CountVariables(tpl.BodyContent)
	}

	mapping := models.JSONB{}
	for k, v := range in.VariableMapping {
		mapping[k] = v
	}

	campaign := models.Campaign{
		WorkspaceID:           workspaceID,
		Name:                  in.Name,
		Status:                status,
		TemplateID:            tpl.ID,
		TemplateName:          tpl.Name,
		TemplateLanguage:      tpl.Language,
		TemplateCategory:      tpl.Category,
		TemplateVariableCount: variableCount,
		RecipientSpecKind:     in.RecipientSpecKind,
		RecipientIDs:          models.StringArray(in.RecipientIDs),
		RecipientTags:         models.StringArray(in.RecipientTags),
		RecipientSegment:      in.RecipientSegment,
		VariableMapping:       mapping,
		HeaderMediaID:         in.HeaderMediaID,
		ScheduledAt:           in.ScheduledAt,
		BatchSize:             batchSize,
		CreatedBy:             actor,
		AuditTrail: models.AuditTrail{}.Append(models.AuditEntry{
			Action:    models.AuditActionCreated,
			Actor:     actor,
			Timestamp: time.Now(),
		}),
	}
	if campaign.RecipientSpecKind == "" {
		campaign.RecipientSpecKind = models.RecipientSpecStatic
	}

	if err := s.DB.Create(&campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	if status == models.CampaignStatusScheduled {
		delay := time.Until(*in.ScheduledAt)
		err := s.Queue.Enqueue(ctx, &queue.Job{
			Type:        queue.JobScheduledStart,
			CampaignID:  campaign.ID,
			WorkspaceID: workspaceID,
			UniqueKey:   "campaign:" + campaign.ID.String() + ":scheduled",
		}, delay)
		if err != nil {
			s.Log.Error("Failed to enqueue scheduled start", "error", err, "campaign_id", campaign.ID)
		}
	}

	s.Log.Info("Campaign created", "campaign_id", campaign.ID, "status", status, "actor", actor)
	return &campaign, nil
}

// Start begins execution: kill switch and safety gate, execution lock,
// full preflight, then the RUNNING transition and the campaign-start
// job. Any failure after lock acquisition force-releases the lock.
func (s *Service) Start(ctx context.Context, campaignID, workspaceID uuid.UUID, actor string) (*preflight.Report, error) {
	campaign, err := s.load(campaignID, workspaceID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return nil, waerr.Newf(waerr.KindInvalidStatus, "cannot start a %s campaign", campaign.Status)
	}

	ws, err := s.guard(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if _, err := s.Lock.Acquire(ctx, campaignID, s.ownerID, s.lockTTL()); err != nil {
		return nil, err
	}

	report, err := s.Preflight.Run(campaign, ws)
	if err != nil {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return nil, waerr.Wrap(waerr.KindPreflightFailed, "preflight error", err)
	}
	if !report.Valid {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return report, waerr.New(waerr.KindPreflightFailed, "preflight checks failed")
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      models.CampaignStatusRunning,
		"started_at":  &now,
		"audit_trail": campaign.AuditTrail.Append(auditEntry(models.AuditActionStarted, actor, "", false)),
	}
	if err := s.transition(campaignID, []string{campaign.Status}, updates); err != nil {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return report, err
	}

	err = s.Queue.Enqueue(ctx, &queue.Job{
		Type:        queue.JobCampaignStart,
		CampaignID:  campaignID,
		WorkspaceID: workspaceID,
		UniqueKey:   "campaign:" + campaignID.String() + ":start",
	}, 0)
	if err != nil {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return report, fmt.Errorf("failed to enqueue campaign start: %w", err)
	}

	s.Log.Info("Campaign started", "campaign_id", campaignID, "actor", actor)
	return report, nil
}

// Pause halts a RUNNING campaign: queued jobs are purged, non-final
// batches are parked, and the execution lock is released. In-flight
// sends complete; the batch handler halts on the next status re-check.
func (s *Service) Pause(ctx context.Context, campaignID, workspaceID uuid.UUID, actor, reason string) error {
	campaign, err := s.load(campaignID, workspaceID)
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignStatusRunning {
		return waerr.Newf(waerr.KindInvalidStatus, "cannot pause a %s campaign", campaign.Status)
	}
	if reason == "" {
		reason = models.PauseReasonUserPaused
	}
	return s.pause(ctx, campaign, actor, reason, false)
}

// SystemPause is the internal pause path used by webhook observers and
// the auto-pause rule. The audit entry is marked system-initiated.
func (s *Service) SystemPause(ctx context.Context, campaignID uuid.UUID, reason string) error {
	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return waerr.New(waerr.KindCampaignNotFound, "campaign not found")
		}
		return err
	}
	if campaign.Status != models.CampaignStatusRunning {
		return nil // nothing to pause
	}
	return s.pause(ctx, &campaign, SystemActor, reason, true)
}

func (s *Service) pause(ctx context.Context, campaign *models.Campaign, actor, reason string, system bool) error {
	if _, err := s.Queue.PurgeCampaign(ctx, campaign.ID); err != nil {
		s.Log.Error("Failed to purge campaign jobs", "error", err, "campaign_id", campaign.ID)
	}

	// Waiting batches park as PAUSED; a batch caught mid-processing
	// rewinds to PENDING so resume can re-enqueue it. Its already-sent
	// recipients keep their state.
	err := s.DB.Model(&models.CampaignBatch{}).
		Where("campaign_id = ? AND status IN ?", campaign.ID,
			[]string{models.BatchStatusPending, models.BatchStatusQueued}).
		Update("status", models.BatchStatusPaused).Error
	if err != nil {
		return fmt.Errorf("failed to park batches: %w", err)
	}
	err = s.DB.Model(&models.CampaignBatch{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.BatchStatusProcessing).
		Update("status", models.BatchStatusPending).Error
	if err != nil {
		return fmt.Errorf("failed to rewind processing batches: %w", err)
	}

	now := time.Now()
	action := models.AuditActionPaused
	if system {
		action = models.AuditActionSystemPaused
	}
	updates := map[string]interface{}{
		"status":        models.CampaignStatusPaused,
		"paused_at":     &now,
		"paused_reason": reason,
		"audit_trail":   campaign.AuditTrail.Append(auditEntry(action, actor, reason, system)),
	}
	if err := s.transition(campaign.ID, []string{models.CampaignStatusRunning}, updates); err != nil {
		return err
	}

	s.Lock.Release(ctx, campaign.ID, s.ownerID, true)
	s.Log.Info("Campaign paused", "campaign_id", campaign.ID, "reason", reason, "system", system)
	return nil
}

// Resume restarts a PAUSED campaign. Only resumable batches (PENDING,
// FAILED, PAUSED) are re-enqueued; COMPLETED and PROCESSING batches
// never re-emit sends.
func (s *Service) Resume(ctx context.Context, campaignID, workspaceID uuid.UUID, actor string) error {
	campaign, err := s.load(campaignID, workspaceID)
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignStatusPaused {
		return waerr.Newf(waerr.KindInvalidStatus, "cannot resume a %s campaign", campaign.Status)
	}

	ws, err := s.guard(ctx, workspaceID)
	if err != nil {
		return err
	}

	if _, err := s.Lock.Acquire(ctx, campaignID, s.ownerID, s.lockTTL()); err != nil {
		return err
	}

	report, err := s.Preflight.RunStartChecks(campaign, ws)
	if err != nil {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return waerr.Wrap(waerr.KindPreflightFailed, "preflight error", err)
	}
	if !report.Valid {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return waerr.Newf(waerr.KindPreflightFailed, "resume checks failed: %v", report.Errors)
	}

	var batches []models.CampaignBatch
	err = s.DB.Where("campaign_id = ?", campaignID).Order("batch_index ASC").Find(&batches).Error
	if err != nil {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return fmt.Errorf("failed to load batches: %w", err)
	}

	var resumable []models.CampaignBatch
	for _, b := range batches {
		if b.IsResumable() {
			resumable = append(resumable, b)
		}
	}

	if len(resumable) == 0 {
		var queued int64
		s.DB.Model(&models.CampaignMessage{}).
			Where("campaign_id = ? AND status = ?", campaignID, models.MessageStatusQueued).
			Count(&queued)
		if queued == 0 {
			s.Lock.Release(ctx, campaignID, s.ownerID, true)
			return s.Complete(ctx, campaignID, "no work remained at resume")
		}
	}

	for _, b := range resumable {
		err := s.DB.Model(&models.CampaignBatch{}).
			Where("id = ? AND status = ?", b.ID, b.Status).
			Update("status", models.BatchStatusPending).Error
		if err != nil {
			s.Lock.Release(ctx, campaignID, s.ownerID, true)
			return fmt.Errorf("failed to reset batch %d: %w", b.BatchIndex, err)
		}
	}

	updates := map[string]interface{}{
		"status":        models.CampaignStatusRunning,
		"paused_reason": "",
		"audit_trail":   campaign.AuditTrail.Append(auditEntry(models.AuditActionResumed, actor, "", false)),
	}
	if err := s.transition(campaignID, []string{models.CampaignStatusPaused}, updates); err != nil {
		s.Lock.Release(ctx, campaignID, s.ownerID, true)
		return err
	}

	stagger := time.Duration(s.Cfg.Campaigns.BatchStaggerSeconds) * time.Second
	for i, b := range resumable {
		err := s.Queue.Enqueue(ctx, &queue.Job{
			Type:        queue.JobBatchProcess,
			CampaignID:  campaignID,
			WorkspaceID: workspaceID,
			BatchID:     b.ID,
			BatchIndex:  b.BatchIndex,
			UniqueKey:   queue.BatchUniqueKey(campaignID, b.BatchIndex),
		}, time.Duration(i)*stagger)
		if err != nil {
			s.Log.Error("Failed to enqueue batch", "error", err, "campaign_id", campaignID, "batch_index", b.BatchIndex)
		}
	}

	grace := time.Duration(s.Cfg.Campaigns.CompletionCheckGraceSec) * time.Second
	s.Queue.Enqueue(ctx, &queue.Job{
		Type:        queue.JobCampaignCheck,
		CampaignID:  campaignID,
		WorkspaceID: workspaceID,
	}, time.Duration(len(resumable))*stagger+grace)

	s.Log.Info("Campaign resumed", "campaign_id", campaignID, "batches", len(resumable), "actor", actor)
	return nil
}

// Complete finalizes a campaign and releases the lock.
func (s *Service) Complete(ctx context.Context, campaignID uuid.UUID, reason string) error {
	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		return err
	}
	if campaign.IsFinal() {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.CampaignStatusCompleted,
		"completed_at": &now,
		"audit_trail":  campaign.AuditTrail.Append(auditEntry(models.AuditActionCompleted, SystemActor, reason, true)),
	}
	err := s.transition(campaignID,
		[]string{models.CampaignStatusRunning, models.CampaignStatusPaused}, updates)
	if err != nil {
		return err
	}

	s.Lock.Release(ctx, campaignID, s.ownerID, true)
	s.Log.Info("Campaign completed", "campaign_id", campaignID, "reason", reason)
	return nil
}

// Fail terminally fails a campaign and releases the lock.
func (s *Service) Fail(ctx context.Context, campaignID uuid.UUID, reason string) error {
	var campaign models.Campaign
	if err := s.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		return err
	}
	if campaign.IsFinal() {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.CampaignStatusFailed,
		"completed_at": &now,
		"last_error":   reason,
		"audit_trail":  campaign.AuditTrail.Append(auditEntry(models.AuditActionFailed, SystemActor, reason, true)),
	}
	err := s.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to fail campaign: %w", err)
	}

	s.Lock.Release(ctx, campaignID, s.ownerID, true)
	s.Log.Warn("Campaign failed", "campaign_id", campaignID, "reason", reason)
	return nil
}

// PauseAllForTemplate system-pauses every RUNNING campaign using the
// template. Called when a template's approval is revoked mid-run.
func (s *Service) PauseAllForTemplate(ctx context.Context, templateID uuid.UUID, reason string) (int, error) {
	var ids []uuid.UUID
	err := s.DB.Model(&models.Campaign{}).
		Where("template_id = ? AND status = ?", templateID, models.CampaignStatusRunning).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	return s.pauseAll(ctx, ids, reason), nil
}

// PauseAllForWorkspace system-pauses every RUNNING campaign of the
// workspace. Called on quality, tier, or account degradation.
func (s *Service) PauseAllForWorkspace(ctx context.Context, workspaceID uuid.UUID, reason string) (int, error) {
	var ids []uuid.UUID
	err := s.DB.Model(&models.Campaign{}).
		Where("workspace_id = ? AND status = ?", workspaceID, models.CampaignStatusRunning).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	return s.pauseAll(ctx, ids, reason), nil
}

func (s *Service) pauseAll(ctx context.Context, ids []uuid.UUID, reason string) int {
	paused := 0
	for _, id := range ids {
		if err := s.SystemPause(ctx, id, reason); err != nil {
			s.Log.Error("System pause failed", "error", err, "campaign_id", id)
			continue
		}
		paused++
	}
	return paused
}

// guard enforces the kill switch and the workspace safety gate.
func (s *Service) guard(ctx context.Context, workspaceID uuid.UUID) (*models.Workspace, error) {
	state, err := s.KillSwitch(ctx)
	if err != nil {
		return nil, fmt.Errorf("kill switch check failed: %w", err)
	}
	if state.Active {
		return nil, waerr.Newf(waerr.KindKillSwitchActive, "campaign execution is disabled: %s", state.Reason)
	}

	var ws models.Workspace
	if err := s.DB.First(&ws, "id = ?", workspaceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, waerr.New(waerr.KindWorkspaceNotConfigured, "workspace not found")
		}
		return nil, err
	}
	if safe, reason := WorkspaceSafe(&ws); !safe {
		return nil, waerr.New(waerr.KindWorkspaceUnsafe, reason)
	}
	return &ws, nil
}

// WorkspaceSafe combines quality, account flags, token expiry, and
// phone state into the tenant safety verdict used by start and resume.
func WorkspaceSafe(ws *models.Workspace) (bool, string) {
	switch {
	case ws.IsBlocked:
		return false, "account is blocked"
	case ws.CapabilityBlocked:
		return false, "messaging capability is revoked"
	case ws.TokenExpired():
		return false, "access token has expired"
	case ws.QualityRating == models.QualityRed:
		return false, "phone quality rating is RED"
	case ws.PhoneNumberID == "":
		return false, "no phone number assigned"
	case ws.PhoneStatus == models.PhoneDisconnected:
		return false, "phone is disconnected"
	}
	return true, ""
}

// load fetches a workspace-scoped campaign.
func (s *Service) load(campaignID, workspaceID uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := s.DB.Where("id = ? AND workspace_id = ?", campaignID, workspaceID).First(&campaign).Error
	if err == gorm.ErrRecordNotFound {
		return nil, waerr.New(waerr.KindCampaignNotFound, "campaign not found")
	}
	if err != nil {
		return nil, fmt.Errorf("campaign lookup failed: %w", err)
	}
	return &campaign, nil
}

// transition performs a conditional status update; a zero-row update
// means a concurrent transition won.
func (s *Service) transition(campaignID uuid.UUID, fromStatuses []string, updates map[string]interface{}) error {
	res := s.DB.Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", campaignID, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("campaign transition failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return waerr.New(waerr.KindInvalidStatus, "campaign state changed concurrently")
	}
	return nil
}

func auditEntry(action, actor, reason string, system bool) models.AuditEntry {
	return models.AuditEntry{
		Action:          action,
		Actor:           actor,
		Timestamp:       time.Now(),
		Reason:          reason,
		SystemInitiated: system,
	}
}
