package preflight

import (
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

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/ratelimit"
)

func newValidator(t *testing.T) (*Validator, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Contact{}, &models.Template{}, &models.Campaign{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg, err := config.Load("")
	require.NoError(t, err)
	log := logf.New(logf.Opts{})
	limiter := ratelimit.New(rdb, cfg, log)
	return New(db, limiter, cfg, log), db
}

func healthyWorkspace() *models.Workspace {
	expiry := time.Now().Add(30 * 24 * time.Hour)
	return &models.Workspace{
		Plan:           models.PlanBasic,
		AccessToken:    "token",
		TokenExpiresAt: &expiry,
		PhoneNumberID:  "555001",
		PhoneStatus:    models.PhoneConnected,
		QualityRating:  models.QualityGreen,
		MessagingTier:  models.Tier1K,
		IsActive:       true,
	}
}

func seedCampaign(t *testing.T, db *gorm.DB, wsID uuid.UUID, templateStatus string, contacts int) *models.Campaign {
	t.Helper()
	tpl := models.Template{
		WorkspaceID: wsID,
		Name:        "order_update",
		Language:    "en",
		Status:      templateStatus,
		BodyContent: "Hello {{1}}",
	}
	require.NoError(t, db.Create(&tpl).Error)

	for i := 0; i < contacts; i++ {
		c := models.Contact{WorkspaceID: wsID, PhoneNumber: "1415555" + uuid.NewString()[:4]}
		require.NoError(t, db.Create(&c).Error)
	}

	return &models.Campaign{
		WorkspaceID:       wsID,
		TemplateID:        tpl.ID,
		RecipientSpecKind: models.RecipientSpecAll,
		BatchSize:         50,
	}
}

func TestRunAllChecksPass(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 3)

	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 3, report.Estimates.Recipients)
	assert.Equal(t, 1, report.Estimates.BatchCount)
	for _, check := range []string{CheckTemplate, CheckRecipients, CheckAccountHealth, CheckPhoneTier, CheckWorkspaceLimits} {
		assert.Equal(t, "passed", report.Checks[check], check)
	}
}

func TestRunTemplateNotApproved(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusRejected, 3)

	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "failed", report.Checks[CheckTemplate])
}

func TestRunNoRecipients(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 0)

	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "failed", report.Checks[CheckRecipients])
}

func TestRunAccountHealth(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	ws.IsBlocked = true
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 2)

	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "failed", report.Checks[CheckAccountHealth])

	// Soon-to-expire token is a warning, not a blocker
	ws = healthyWorkspace()
	ws.ID = campaign.WorkspaceID
	expiry := time.Now().Add(2 * time.Hour)
	ws.TokenExpiresAt = &expiry
	report, err = v.Run(campaign, ws)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.NotEmpty(t, report.Warnings)
}

func TestRunQualityAndTier(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 60)

	ws.QualityRating = models.QualityRed
	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "failed", report.Checks[CheckPhoneTier])

	// 60 recipients against TIER_50's cap of 50
	ws.QualityRating = models.QualityGreen
	ws.MessagingTier = models.TierFifty
	report, err = v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)

	// YELLOW warns but does not block
	ws.MessagingTier = models.Tier1K
	ws.QualityRating = models.QualityYellow
	report, err = v.Run(campaign, ws)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.NotEmpty(t, report.Warnings)
}

func TestRunWorkspaceLimits(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	ws.DailyLimitOverride = 10
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 12)

	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "failed", report.Checks[CheckWorkspaceLimits])

	// Already-used quota counts against the remainder
	ws.DailyLimitOverride = 20
	ws.MessagesToday = 15
	report, err = v.Run(campaign, ws)
	require.NoError(t, err)
	assert.False(t, report.Valid)
}

func TestRunStartChecksSubset(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	// Zero recipients must not matter for the resume-time subset
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 0)

	report, err := v.RunStartChecks(campaign, ws)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.NotContains(t, report.Checks, CheckRecipients)
	assert.NotContains(t, report.Checks, CheckWorkspaceLimits)
}

func TestEstimates(t *testing.T) {
	v, db := newValidator(t)
	ws := healthyWorkspace()
	ws.ID = uuid.New()
	campaign := seedCampaign(t, db, ws.ID, models.TemplateStatusApproved, 120)
	campaign.BatchSize = 50

	report, err := v.Run(campaign, ws)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Estimates.BatchCount)
	assert.Greater(t, report.Estimates.EstimatedDuration, time.Duration(0))
}
