// Package scheduler promotes due SCHEDULED campaigns. The create path
// already enqueues a delayed scheduled-start job; the periodic sweep is
// the safety net for jobs lost to a queue flush or an enqueue failure.
package scheduler

import (
	"context"
	"time"

	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/queue"
)

// DefaultInterval between sweeps.
const DefaultInterval = time.Minute

// Scheduler sweeps for due scheduled campaigns.
type Scheduler struct {
	DB       *gorm.DB
	Queue    *queue.Publisher
	Log      logf.Logger
	Interval time.Duration
}

// New creates the scheduler.
func New(db *gorm.DB, pub *queue.Publisher, log logf.Logger) *Scheduler {
	return &Scheduler{DB: db, Queue: pub, Log: log, Interval: DefaultInterval}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.Log.Error("Scheduler sweep failed", "error", err)
			}
		}
	}
}

// Tick enqueues a scheduled-start job for every due campaign. The job's
// unique key coalesces with the delayed job from the create path, so a
// healthy campaign is never started twice.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	var due []models.Campaign
	err := s.DB.Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
		models.CampaignStatusScheduled, time.Now()).
		Limit(100).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for i := range due {
		campaign := &due[i]
		err := s.Queue.Enqueue(ctx, &queue.Job{
			Type:        queue.JobScheduledStart,
			CampaignID:  campaign.ID,
			WorkspaceID: campaign.WorkspaceID,
			UniqueKey:   "campaign:" + campaign.ID.String() + ":scheduled",
		}, 0)
		if err != nil {
			s.Log.Error("Failed to enqueue scheduled start", "error", err, "campaign_id", campaign.ID)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.Log.Info("Scheduled campaigns promoted", "count", enqueued)
	}
	return enqueued, nil
}
