package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/queue"
)

func newScheduler(t *testing.T) (*Scheduler, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Campaign{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logf.New(logf.Opts{})
	return New(db, queue.NewPublisher(rdb, log), log), db
}

func seedCampaign(t *testing.T, db *gorm.DB, status string, scheduledAt *time.Time) *models.Campaign {
	t.Helper()
	campaign := models.Campaign{
		WorkspaceID: uuid.New(),
		Name:        "swept",
		Status:      status,
		TemplateID:  uuid.New(),
		ScheduledAt: scheduledAt,
	}
	require.NoError(t, db.Create(&campaign).Error)
	return &campaign
}

func TestTickPromotesDueCampaigns(t *testing.T) {
	s, db := newScheduler(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due := seedCampaign(t, db, models.CampaignStatusScheduled, &past)
	seedCampaign(t, db, models.CampaignStatusScheduled, &future)
	seedCampaign(t, db, models.CampaignStatusDraft, nil)

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ready, delayed, _, err := s.Queue.Counts(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ready)
	assert.Zero(t, delayed)
}

func TestTickCoalescesRepeatSweeps(t *testing.T) {
	s, db := newScheduler(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	due := seedCampaign(t, db, models.CampaignStatusScheduled, &past)

	_, err := s.Tick(ctx)
	require.NoError(t, err)
	_, err = s.Tick(ctx)
	require.NoError(t, err)

	ready, _, _, err := s.Queue.Counts(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ready, "unique key must suppress the second enqueue")
}
