package campaigns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/waerr"
)

// Get returns one workspace-scoped campaign.
func (s *Service) Get(_ context.Context, campaignID, workspaceID uuid.UUID) (*models.Campaign, error) {
	return s.load(campaignID, workspaceID)
}

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	Page   int
	Limit  int
}

// List returns a page of campaigns newest-first with the total count.
func (s *Service) List(_ context.Context, workspaceID uuid.UUID, filter ListFilter) ([]models.Campaign, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	query := s.DB.Model(&models.Campaign{}).Where("workspace_id = ?", workspaceID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var campaigns []models.Campaign
	err := query.Order("created_at DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&campaigns).Error
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// UpdateInput carries the mutable fields of a DRAFT or SCHEDULED
// campaign.
type UpdateInput struct {
	Name              *string           `json:"name,omitempty"`
	RecipientSpecKind *string           `json:"recipient_spec_kind,omitempty"`
	RecipientIDs      []string          `json:"recipient_ids,omitempty"`
	RecipientTags     []string          `json:"recipient_tags,omitempty"`
	RecipientSegment  *string           `json:"recipient_segment,omitempty"`
	VariableMapping   map[string]string `json:"variable_mapping,omitempty"`
	HeaderMediaID     *string           `json:"header_media_id,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduled_at,omitempty"`
	BatchSize         *int              `json:"batch_size,omitempty"`
}

// Update mutates a campaign; legal only before execution begins.
func (s *Service) Update(_ context.Context, campaignID, workspaceID uuid.UUID, in *UpdateInput) (*models.Campaign, error) {
	campaign, err := s.load(campaignID, workspaceID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return nil, waerr.Newf(waerr.KindInvalidStatus, "cannot update a %s campaign", campaign.Status)
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.RecipientSpecKind != nil {
		updates["recipient_spec_kind"] = *in.RecipientSpecKind
	}
	if in.RecipientIDs != nil {
		updates["recipient_ids"] = models.StringArray(in.RecipientIDs)
	}
	if in.RecipientTags != nil {
		updates["recipient_tags"] = models.StringArray(in.RecipientTags)
	}
	if in.RecipientSegment != nil {
		updates["recipient_segment"] = *in.RecipientSegment
	}
	if in.VariableMapping != nil {
		mapping := models.JSONB{}
		for k, v := range in.VariableMapping {
			mapping[k] = v
		}
		updates["variable_mapping"] = mapping
	}
	if in.HeaderMediaID != nil {
		updates["header_media_id"] = *in.HeaderMediaID
	}
	if in.ScheduledAt != nil {
		updates["scheduled_at"] = in.ScheduledAt
		updates["status"] = models.CampaignStatusScheduled
	}
	if in.BatchSize != nil && *in.BatchSize > 0 {
		updates["batch_size"] = *in.BatchSize
	}
	if len(updates) == 0 {
		return campaign, nil
	}

	err = s.DB.Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", campaignID,
			[]string{models.CampaignStatusDraft, models.CampaignStatusScheduled}).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}
	return s.load(campaignID, workspaceID)
}

// Delete removes a campaign and its owned batches and messages. A
// RUNNING campaign must be paused first.
func (s *Service) Delete(ctx context.Context, campaignID, workspaceID uuid.UUID) error {
	campaign, err := s.load(campaignID, workspaceID)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignStatusRunning {
		return waerr.New(waerr.KindInvalidStatus, "cannot delete a running campaign")
	}

	if _, err := s.Queue.PurgeCampaign(ctx, campaignID); err != nil {
		s.Log.Error("Failed to purge jobs on delete", "error", err, "campaign_id", campaignID)
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&models.CampaignBatch{}).Error; err != nil {
			return err
		}
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&models.CampaignMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Campaign{}, "id = ?", campaignID).Error
	})
}

// Progress is the live execution view of a campaign.
type Progress struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Status     string    `json:"status"`

	TotalRecipients int `json:"total_recipients"`
	Queued          int `json:"queued"`
	Sent            int `json:"sent"`
	Delivered       int `json:"delivered"`
	Read            int `json:"read"`
	Failed          int `json:"failed"`
	Replied         int `json:"replied"`

	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
	FailureRate  float64 `json:"failure_rate"`

	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	FailedBatches    int `json:"failed_batches"`

	JobsReady   int `json:"jobs_ready"`
	JobsDelayed int `json:"jobs_delayed"`
	JobsDead    int `json:"jobs_dead"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GetProgress assembles totals, rates, batching progress, and queue
// counts for a campaign.
func (s *Service) GetProgress(ctx context.Context, campaignID, workspaceID uuid.UUID) (*Progress, error) {
	campaign, err := s.load(campaignID, workspaceID)
	if err != nil {
		return nil, err
	}

	ready, delayed, dead, err := s.Queue.Counts(ctx, campaignID)
	if err != nil {
		s.Log.Error("Failed to read queue counts", "error", err, "campaign_id", campaignID)
	}

	p := &Progress{
		CampaignID:       campaign.ID,
		Status:           campaign.Status,
		TotalRecipients:  campaign.TotalRecipients,
		Queued:           campaign.QueuedCount,
		Sent:             campaign.SentCount,
		Delivered:        campaign.DeliveredCount,
		Read:             campaign.ReadCount,
		Failed:           campaign.FailedCount,
		Replied:          campaign.RepliedCount,
		TotalBatches:     campaign.TotalBatches,
		CompletedBatches: campaign.CompletedBatches,
		FailedBatches:    campaign.FailedBatches,
		JobsReady:        ready,
		JobsDelayed:      delayed,
		JobsDead:         dead,
		StartedAt:        campaign.StartedAt,
		PausedAt:         campaign.PausedAt,
		CompletedAt:      campaign.CompletedAt,
	}
	if campaign.SentCount > 0 {
		p.DeliveryRate = float64(campaign.DeliveredCount) / float64(campaign.SentCount)
	}
	if campaign.DeliveredCount > 0 {
		p.ReadRate = float64(campaign.ReadCount) / float64(campaign.DeliveredCount)
	}
	if processed := campaign.SentCount + campaign.FailedCount; processed > 0 {
		p.FailureRate = float64(campaign.FailedCount) / float64(processed)
	}
	return p, nil
}

// Messages lists a campaign's per-recipient send records.
func (s *Service) Messages(_ context.Context, campaignID, workspaceID uuid.UUID, page, limit int) ([]models.CampaignMessage, int64, error) {
	if _, err := s.load(campaignID, workspaceID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := s.DB.Model(&models.CampaignMessage{}).Where("campaign_id = ?", campaignID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.CampaignMessage
	err := query.Order("created_at ASC").Offset((page - 1) * limit).Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}
