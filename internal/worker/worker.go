// Package worker implements the campaign job handlers: campaign-start
// fan-out, batch processing with rate-limit and finality enforcement,
// the completion check, and scheduled starts.
package worker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/automation"
	"github.com/waveline/waveline/internal/campaigns"
	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/contactutil"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/pipeline"
	"github.com/waveline/waveline/internal/queue"
	"github.com/waveline/waveline/internal/ratelimit"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/waveline/waveline/pkg/whatsapp"
)

// Handler processes campaign jobs. It implements queue.Handler.
type Handler struct {
	DB         *gorm.DB
	Campaigns  *campaigns.Service
	Pipeline   *pipeline.Service
	Limiter    *ratelimit.Limiter
	Queue      *queue.Publisher
	Automation *automation.Engine
	Cfg        *config.Config
	Log        logf.Logger
}

// New creates the job handler.
func New(db *gorm.DB, svc *campaigns.Service, pipe *pipeline.Service, limiter *ratelimit.Limiter, pub *queue.Publisher, engine *automation.Engine, cfg *config.Config, log logf.Logger) *Handler {
	return &Handler{
		DB:         db,
		Campaigns:  svc,
		Pipeline:   pipe,
		Limiter:    limiter,
		Queue:      pub,
		Automation: engine,
		Cfg:        cfg,
		Log:        log,
	}
}

// Handle dispatches one job by type.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) queue.Outcome {
	switch job.Type {
	case queue.JobCampaignStart:
		return h.handleCampaignStart(ctx, job)
	case queue.JobBatchProcess:
		return h.handleBatchProcess(ctx, job)
	case queue.JobCampaignCheck:
		return h.handleCampaignCheck(ctx, job)
	case queue.JobScheduledStart:
		return h.handleScheduledStart(ctx, job)
	default:
		h.Log.Error("Unknown job type", "type", job.Type)
		return queue.Done()
	}
}

// handleCampaignStart resolves recipients, persists the batching plan,
// and fans out batch-process jobs with stagger.
func (h *Handler) handleCampaignStart(ctx context.Context, job *queue.Job) queue.Outcome {
	var campaign models.Campaign
	if err := h.DB.First(&campaign, "id = ?", job.CampaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return queue.Done()
		}
		return queue.Fail(fmt.Sprintf("campaign load failed: %v", err))
	}
	if campaign.Status != models.CampaignStatusRunning {
		h.Log.Info("Skipping start for non-running campaign", "campaign_id", campaign.ID, "status", campaign.Status)
		return queue.Done()
	}

	// Approval can be lost between preflight and execution.
	var tpl models.Template
	if err := h.DB.First(&tpl, "id = ?", campaign.TemplateID).Error; err != nil || !tpl.IsSendable() {
		h.Campaigns.SystemPause(ctx, campaign.ID, models.PauseReasonTemplateRevoked)
		return queue.Done()
	}

	contacts, err := contactutil.ResolveRecipients(h.DB, &campaign)
	if err != nil {
		return queue.Fail(fmt.Sprintf("recipient resolution failed: %v", err))
	}
	if len(contacts) == 0 {
		h.Campaigns.Fail(ctx, campaign.ID, "no recipients resolved")
		return queue.Done()
	}

	batchSize := campaign.BatchSize
	if batchSize <= 0 {
		batchSize = h.Cfg.Campaigns.BatchSize
	}
	totalBatches := int(math.Ceil(float64(len(contacts)) / float64(batchSize)))

	err = h.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(map[string]interface{}{
		"total_recipients": len(contacts),
		"queued_count":     len(contacts),
		"batch_size":       batchSize,
		"total_batches":    totalBatches,
	}).Error
	if err != nil {
		return queue.Fail(fmt.Sprintf("failed to persist batching plan: %v", err))
	}

	stagger := time.Duration(h.Cfg.Campaigns.BatchStaggerSeconds) * time.Second
	for i := 0; i < totalBatches; i++ {
		lo := i * batchSize
		hi := lo + batchSize
		if hi > len(contacts) {
			hi = len(contacts)
		}

		recipients := make(models.BatchRecipients, 0, hi-lo)
		for _, c := range contacts[lo:hi] {
			recipients = append(recipients, models.BatchRecipient{
				ContactID: c.ID.String(),
				Phone:     c.PhoneNumber,
				Status:    models.RecipientStatusPending,
			})
		}

		batch := models.CampaignBatch{
			CampaignID:  campaign.ID,
			WorkspaceID: campaign.WorkspaceID,
			BatchIndex:  i,
			Status:      models.BatchStatusPending,
			Recipients:  recipients,
		}
		if err := h.DB.Create(&batch).Error; err != nil {
			// Duplicate index from a retried start job; the existing
			// batch wins.
			h.Log.Warn("Batch create failed, assuming replay", "error", err, "campaign_id", campaign.ID, "batch_index", i)
			continue
		}

		err = h.Queue.Enqueue(ctx, &queue.Job{
			Type:        queue.JobBatchProcess,
			CampaignID:  campaign.ID,
			WorkspaceID: campaign.WorkspaceID,
			BatchID:     batch.ID,
			BatchIndex:  i,
			UniqueKey:   queue.BatchUniqueKey(campaign.ID, i),
		}, time.Duration(i)*stagger)
		if err != nil {
			h.Log.Error("Failed to enqueue batch job", "error", err, "campaign_id", campaign.ID, "batch_index", i)
		}
	}

	// Completion check after the estimated duration plus grace.
	perSecond := h.Cfg.RateLimit.PerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	estimated := time.Duration(len(contacts)/perSecond)*time.Second + time.Duration(totalBatches)*stagger
	grace := time.Duration(h.Cfg.Campaigns.CompletionCheckGraceSec) * time.Second
	h.Queue.Enqueue(ctx, &queue.Job{
		Type:        queue.JobCampaignCheck,
		CampaignID:  campaign.ID,
		WorkspaceID: campaign.WorkspaceID,
	}, estimated+grace)

	h.Log.Info("Campaign fan-out created", "campaign_id", campaign.ID,
		"recipients", len(contacts), "batches", totalBatches)
	return queue.Done()
}

// handleBatchProcess sends one batch, enforcing finality, pause, and
// rate limits on every invocation.
func (h *Handler) handleBatchProcess(ctx context.Context, job *queue.Job) queue.Outcome {
	var batch models.CampaignBatch
	if err := h.DB.First(&batch, "id = ?", job.BatchID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return queue.Done()
		}
		return queue.Fail(fmt.Sprintf("batch load failed: %v", err))
	}

	// Finality: a completed batch never re-emits. A FAILED batch is
	// retried only through an explicit resume re-enqueue.
	if batch.Status == models.BatchStatusCompleted {
		return queue.Done()
	}
	if batch.Status == models.BatchStatusProcessing {
		stale := time.Duration(h.Cfg.Campaigns.StaleProcessingMins) * time.Minute
		if batch.StartedAt != nil && time.Since(*batch.StartedAt) < stale {
			return queue.Done() // another worker owns it
		}
		h.Log.Warn("Reclaiming stale processing batch", "batch_id", batch.ID, "campaign_id", batch.CampaignID)
	}
	wasFailed := batch.Status == models.BatchStatusFailed

	var campaign models.Campaign
	if err := h.DB.First(&campaign, "id = ?", batch.CampaignID).Error; err != nil {
		return h.failBatch(job, &batch, wasFailed, fmt.Sprintf("campaign load failed: %v", err))
	}
	if campaign.Status != models.CampaignStatusRunning {
		h.DB.Model(&batch).Update("status", models.BatchStatusPaused)
		return queue.Done()
	}

	if wait, waitFor, err := h.Limiter.ShouldWait(ctx, campaign.ID); err == nil && wait {
		return queue.RetryAfter(waitFor)
	}

	now := time.Now()
	err := h.DB.Model(&batch).Updates(map[string]interface{}{
		"status":     models.BatchStatusProcessing,
		"attempts":   gorm.Expr("attempts + 1"),
		"started_at": &now,
	}).Error
	if err != nil {
		return h.failBatch(job, &batch, wasFailed, fmt.Sprintf("failed to mark batch processing: %v", err))
	}

	var ws models.Workspace
	if err := h.DB.First(&ws, "id = ?", campaign.WorkspaceID).Error; err != nil {
		return h.failBatch(job, &batch, wasFailed, fmt.Sprintf("workspace load failed: %v", err))
	}

	outcome := h.sendBatch(ctx, &campaign, &batch, &ws, job, wasFailed)

	// Completion check runs after every batch invocation.
	h.runCompletionCheck(ctx, campaign.ID)
	return outcome
}

// failBatch converts a job failure into the batch's terminal state when
// the attempt being reported is the job's last. Without this the batch
// would stay non-final after the job dead-letters and the completion
// check could never finish the campaign.
func (h *Handler) failBatch(job *queue.Job, batch *models.CampaignBatch, wasFailed bool, reason string) queue.Outcome {
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = queue.DefaultMaxAttempts
	}
	// The consumer increments Attempts after Handle returns.
	if job.Attempts+1 < maxAttempts {
		return queue.Fail(reason)
	}

	now := time.Now()
	err := h.DB.Model(batch).Updates(map[string]interface{}{
		"status":       models.BatchStatusFailed,
		"completed_at": &now,
		"last_error":   reason,
	}).Error
	if err != nil {
		h.Log.Error("Failed to mark batch failed", "error", err, "batch_id", batch.ID)
		return queue.Fail(reason)
	}
	if !wasFailed {
		h.DB.Model(&models.Campaign{}).Where("id = ?", batch.CampaignID).
			Update("failed_batches", gorm.Expr("failed_batches + 1"))
	}
	h.Log.Error("Batch failed terminally", "batch_id", batch.ID, "campaign_id", batch.CampaignID,
		"batch_index", batch.BatchIndex, "reason", reason)
	return queue.Fail(reason)
}

// sendBatch walks the batch's recipient slice. The recipients column is
// flushed after the loop and before every early return.
func (h *Handler) sendBatch(ctx context.Context, campaign *models.Campaign, batch *models.CampaignBatch, ws *models.Workspace, job *queue.Job, wasFailed bool) queue.Outcome {
	pause := time.Duration(h.Cfg.Campaigns.InterMessagePauseMs) * time.Millisecond

	for i := range batch.Recipients {
		rec := &batch.Recipients[i]
		if rec.Status != models.RecipientStatusPending && rec.Status != models.RecipientStatusQueued {
			continue
		}

		// Pause mid-batch halts further sends; processed recipients
		// keep their state.
		var status string
		h.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Pluck("status", &status)
		if status != models.CampaignStatusRunning {
			h.flushRecipients(batch)
			h.DB.Model(batch).Update("status", models.BatchStatusPaused)
			h.Log.Info("Batch halted, campaign no longer running", "batch_id", batch.ID, "status", status)
			return queue.Done()
		}

		res, err := h.Limiter.Check(ctx, ws)
		if err != nil {
			h.flushRecipients(batch)
			return h.failBatch(job, batch, wasFailed, fmt.Sprintf("rate limiter error: %v", err))
		}
		if !res.Allowed {
			h.flushRecipients(batch)
			h.DB.Model(batch).Update("status", models.BatchStatusPending)
			h.Log.Warn("Rate limit hit, rescheduling batch", "batch_id", batch.ID,
				"level", res.ExceededLevel, "retry_after", res.RetryAfter.String())
			return queue.RetryAfter(res.RetryAfter)
		}

		contactID, err := uuid.Parse(rec.ContactID)
		if err != nil {
			rec.Status = models.RecipientStatusSkipped
			rec.Error = "invalid contact id"
			continue
		}

		if outcome, halted := h.sendRecipient(ctx, campaign, batch, ws, rec, contactID); halted {
			h.flushRecipients(batch)
			return outcome
		}

		if pause > 0 {
			time.Sleep(pause)
		}
	}

	h.flushRecipients(batch)

	remaining := 0
	for _, rec := range batch.Recipients {
		if rec.Status == models.RecipientStatusPending || rec.Status == models.RecipientStatusQueued {
			remaining++
		}
	}
	if remaining > 0 {
		return h.failBatch(job, batch, wasFailed, fmt.Sprintf("%d recipients still pending", remaining))
	}

	now := time.Now()
	err := h.DB.Model(batch).Updates(map[string]interface{}{
		"status":       models.BatchStatusCompleted,
		"completed_at": &now,
	}).Error
	if err != nil {
		return h.failBatch(job, batch, wasFailed, fmt.Sprintf("failed to complete batch: %v", err))
	}
	counters := map[string]interface{}{
		"completed_batches": gorm.Expr("completed_batches + 1"),
	}
	if wasFailed {
		// A resumed retry of a previously failed batch succeeded.
		counters["failed_batches"] = gorm.Expr("CASE WHEN failed_batches > 0 THEN failed_batches - 1 ELSE 0 END")
	}
	h.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(counters)

	h.Log.Info("Batch completed", "batch_id", batch.ID, "campaign_id", campaign.ID, "batch_index", batch.BatchIndex)
	return queue.Done()
}

// sendRecipient emits one send. The second return is true when the
// batch must abort with the given outcome.
func (h *Handler) sendRecipient(ctx context.Context, campaign *models.Campaign, batch *models.CampaignBatch, ws *models.Workspace, rec *models.BatchRecipient, contactID uuid.UUID) (queue.Outcome, bool) {
	var contact models.Contact
	if err := h.DB.First(&contact, "id = ?", contactID).Error; err != nil {
		rec.Status = models.RecipientStatusSkipped
		rec.Error = "contact no longer exists"
		return queue.Outcome{}, false
	}
	if contact.OptedOut {
		rec.Status = models.RecipientStatusSkipped
		rec.Error = "contact opted out"
		return queue.Outcome{}, false
	}

	in := &pipeline.SendInput{
		WorkspaceID:   campaign.WorkspaceID,
		TemplateID:    campaign.TemplateID,
		Phone:         rec.Phone,
		BodyParams:    h.buildParams(campaign, &contact),
		HeaderMediaID: campaign.HeaderMediaID,
		ContactID:     &contactID,
		CampaignID:    &campaign.ID,
		BatchID:       &batch.ID,
	}

	res, err := h.Pipeline.SendTemplate(ctx, in)
	now := time.Now()

	if err == nil {
		rec.Status = models.RecipientStatusSent
		rec.ProviderMessageID = res.ProviderMessageID
		rec.ProcessedAt = &now
		if !res.Skipped {
			h.upsertCampaignMessage(campaign, batch, contactID, rec.Phone, models.MessageStatusSent, res.ProviderMessageID, "", 0)
			h.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(map[string]interface{}{
				"sent_count":           gorm.Expr("sent_count + 1"),
				"queued_count":         gorm.Expr("CASE WHEN queued_count > 0 THEN queued_count - 1 ELSE 0 END"),
				"consecutive_failures": 0,
			})
			h.DB.Model(&models.Workspace{}).Where("id = ?", ws.ID).Updates(map[string]interface{}{
				"messages_today":      gorm.Expr("messages_today + 1"),
				"messages_this_month": gorm.Expr("messages_this_month + 1"),
			})
			h.Limiter.RecordSuccess(ctx, campaign.ID)
		}
		return queue.Outcome{}, false
	}

	apiErr, isAPIErr := whatsapp.AsAPIError(err)

	// A provider rate limit never charges the recipient: it stays
	// pending so the rescheduled batch retries it after the backoff.
	if isAPIErr && apiErr.Class == whatsapp.ClassRateLimit {
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = 30 * time.Second
		}
		h.Limiter.SetBackoff(ctx, campaign.ID, wait)
		h.DB.Model(batch).Update("status", models.BatchStatusPending)
		h.Log.Warn("Provider rate limit, backing off", "campaign_id", campaign.ID, "wait", wait.String())
		return queue.RetryAfter(wait), true
	}

	// Failure path: record, classify, and decide whether the batch
	// aborts.
	rec.Status = models.RecipientStatusFailed
	rec.Error = err.Error()
	rec.ProcessedAt = &now

	errCode := 0
	if isAPIErr {
		errCode = apiErr.Code
	}

	h.upsertCampaignMessage(campaign, batch, contactID, rec.Phone, models.MessageStatusFailed, "", err.Error(), errCode)
	h.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(map[string]interface{}{
		"failed_count":         gorm.Expr("failed_count + 1"),
		"queued_count":         gorm.Expr("CASE WHEN queued_count > 0 THEN queued_count - 1 ELSE 0 END"),
		"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
		"last_error":           err.Error(),
		"last_error_code":      errCode,
	})

	if isAPIErr {
		if reason := apiErr.PauseReason(); reason != "" {
			h.Campaigns.SystemPause(ctx, campaign.ID, reason)
			h.Log.Warn("Fatal provider error, campaign paused", "campaign_id", campaign.ID, "reason", reason)
			return queue.Done(), true
		}
	}

	failures, _ := h.Limiter.RecordFailure(ctx, campaign.ID)
	var counts struct {
		Sent   int
		Failed int
	}
	h.DB.Model(&models.Campaign{}).Select("sent_count as sent, failed_count as failed").
		Where("id = ?", campaign.ID).Scan(&counts)
	if h.Limiter.ShouldAutoPause(failures, counts.Sent, counts.Failed) {
		h.Campaigns.SystemPause(ctx, campaign.ID, models.PauseReasonHighFailureRate)
		return queue.Done(), true
	}

	return queue.Outcome{}, false
}

// buildParams resolves the campaign's variable mapping against the
// contact's fields, positionally for variables 1..N.
func (h *Handler) buildParams(campaign *models.Campaign, contact *models.Contact) []string {
	if campaign.TemplateVariableCount == 0 {
		return nil
	}
	params := make([]string, campaign.TemplateVariableCount)
	for i := 0; i < campaign.TemplateVariableCount; i++ {
		key := strconv.Itoa(i + 1)
		raw, ok := campaign.VariableMapping[key]
		if !ok {
			continue
		}
		path, ok := raw.(string)
		if !ok {
			continue
		}
		params[i] = contactutil.ResolveField(contact, path)
	}
	return params
}

// upsertCampaignMessage creates or advances the per-recipient join
// record.
func (h *Handler) upsertCampaignMessage(campaign *models.Campaign, batch *models.CampaignBatch, contactID uuid.UUID, phone, status, providerID, lastError string, errCode int) {
	now := time.Now()

	var cm models.CampaignMessage
	err := h.DB.Where("campaign_id = ? AND contact_id = ?", campaign.ID, contactID).First(&cm).Error
	if err == gorm.ErrRecordNotFound {
		cm = models.CampaignMessage{
			CampaignID:  campaign.ID,
			ContactID:   contactID,
			WorkspaceID: campaign.WorkspaceID,
			BatchID:     batch.ID,
			PhoneNumber: phone,
			Status:      status,
			Attempts:    1,
		}
		if status == models.MessageStatusSent {
			cm.ProviderMessageID = providerID
			cm.SentAt = &now
		} else {
			cm.FailedAt = &now
			cm.LastError = lastError
			cm.LastErrorCode = errCode
		}
		if err := h.DB.Create(&cm).Error; err != nil {
			h.Log.Error("Failed to create campaign message", "error", err, "campaign_id", campaign.ID)
		}
		return
	}
	if err != nil {
		h.Log.Error("Campaign message lookup failed", "error", err, "campaign_id", campaign.ID)
		return
	}

	updates := map[string]interface{}{
		"status":   status,
		"attempts": gorm.Expr("attempts + 1"),
	}
	if status == models.MessageStatusSent {
		updates["provider_message_id"] = providerID
		updates["sent_at"] = &now
	} else {
		updates["failed_at"] = &now
		updates["last_error"] = lastError
		updates["last_error_code"] = errCode
	}
	if err := h.DB.Model(&cm).Updates(updates).Error; err != nil {
		h.Log.Error("Failed to update campaign message", "error", err, "campaign_id", campaign.ID)
	}
}

func (h *Handler) flushRecipients(batch *models.CampaignBatch) {
	if err := h.DB.Model(batch).Update("recipients", batch.Recipients).Error; err != nil {
		h.Log.Error("Failed to persist batch recipients", "error", err, "batch_id", batch.ID)
	}
}

// handleCampaignCheck evaluates completion and the failure-rate
// threshold, rescheduling itself while the campaign still runs.
func (h *Handler) handleCampaignCheck(ctx context.Context, job *queue.Job) queue.Outcome {
	done, err := h.runCompletionCheck(ctx, job.CampaignID)
	if err != nil {
		return queue.Fail(err.Error())
	}
	if done {
		return queue.Done()
	}

	var status string
	h.DB.Model(&models.Campaign{}).Where("id = ?", job.CampaignID).Pluck("status", &status)
	if status != models.CampaignStatusRunning {
		return queue.Done()
	}
	grace := time.Duration(h.Cfg.Campaigns.CompletionCheckGraceSec) * time.Second
	return queue.RetryAfter(grace)
}

// runCompletionCheck syncs totals from the per-recipient records and
// completes or auto-pauses the campaign. Returns true when the campaign
// reached a final or paused state.
func (h *Handler) runCompletionCheck(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	var campaign models.Campaign
	if err := h.DB.First(&campaign, "id = ?", campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return true, nil
		}
		return false, fmt.Errorf("campaign load failed: %w", err)
	}
	if campaign.Status != models.CampaignStatusRunning {
		return true, nil
	}

	// Authoritative failure-rate view from the join records.
	var sent, failed int64
	h.DB.Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]string{models.MessageStatusSent, models.MessageStatusDelivered, models.MessageStatusRead, models.MessageStatusReplied}).
		Count(&sent)
	h.DB.Model(&models.CampaignMessage{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.MessageStatusFailed).
		Count(&failed)

	processed := int(sent + failed)
	if processed >= h.Cfg.Campaigns.FailureRateMinSample {
		rate := float64(failed) / float64(processed)
		h.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).Update("failure_rate", rate)
		if rate >= h.Cfg.Campaigns.FailureRateThreshold {
			h.Campaigns.SystemPause(ctx, campaignID, models.PauseReasonHighFailureRate)
			return true, nil
		}
	}

	var finalBatches int64
	h.DB.Model(&models.CampaignBatch{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]string{models.BatchStatusCompleted, models.BatchStatusFailed}).
		Count(&finalBatches)

	if campaign.TotalBatches > 0 && int(finalBatches) >= campaign.TotalBatches {
		h.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).Updates(map[string]interface{}{
			"sent_count":   sent,
			"failed_count": failed,
		})
		if err := h.Campaigns.Complete(ctx, campaignID, "all batches final"); err != nil {
			return false, err
		}
		if h.Automation != nil {
			h.Automation.HandleEvent(ctx, &automation.Event{
				Type:        models.TriggerCampaignCompleted,
				WorkspaceID: campaign.WorkspaceID,
				CampaignID:  &campaignID,
			})
		}
		return true, nil
	}
	return false, nil
}

// handleScheduledStart promotes a SCHEDULED campaign whose time has
// arrived.
func (h *Handler) handleScheduledStart(ctx context.Context, job *queue.Job) queue.Outcome {
	var campaign models.Campaign
	if err := h.DB.First(&campaign, "id = ?", job.CampaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return queue.Done()
		}
		return queue.Fail(fmt.Sprintf("campaign load failed: %v", err))
	}
	if campaign.Status != models.CampaignStatusScheduled {
		return queue.Done() // started or cancelled elsewhere
	}

	_, err := h.Campaigns.Start(ctx, campaign.ID, campaign.WorkspaceID, campaigns.SystemActor)
	if err != nil {
		switch waerr.KindOf(err) {
		case waerr.KindKillSwitchActive, waerr.KindWorkspaceUnsafe, waerr.KindCampaignAlreadyRunning:
			// Transient platform conditions; try again shortly.
			return queue.RetryAfter(5 * time.Minute)
		case waerr.KindPreflightFailed:
			h.Campaigns.Fail(ctx, campaign.ID, err.Error())
			return queue.Done()
		default:
			return queue.Fail(err.Error())
		}
	}
	return queue.Done()
}
