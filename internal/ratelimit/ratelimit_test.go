package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"github.com/zerodha/logf"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &config.Config{}
	cfg.RateLimit.PerSecond = 3
	cfg.RateLimit.PerMinute = 100
	cfg.RateLimit.FreeDaily = 5
	cfg.RateLimit.BasicDaily = 10000
	cfg.RateLimit.PremiumDaily = 100000
	cfg.Campaigns.MaxConsecutiveFailures = 10
	cfg.Campaigns.FailureRateThreshold = 0.30
	cfg.Campaigns.FailureRateMinSample = 50
	return New(rdb, cfg, logf.New(logf.Opts{})), mr
}

func testWorkspace(plan string) *models.Workspace {
	return &models.Workspace{
		BaseModel:     models.BaseModel{ID: uuid.New()},
		Plan:          plan,
		PhoneNumberID: "555000111",
		MessagingTier: models.TierUnlimited,
	}
}

func TestCheckPerSecondCap(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	ws := testWorkspace(models.PlanBasic)

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, ws)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "send %d should be allowed", i)
	}

	res, err := l.Check(ctx, ws)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, LevelSecond, res.ExceededLevel)
	assert.Equal(t, time.Second, res.RetryAfter)
}

func TestCheckPlanDailyCap(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	ws := testWorkspace(models.PlanFree)

	// Pin the clock so second-window keys rotate but the day stays fixed
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	l.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 2 * time.Second)
	}

	allowed := 0
	for i := 0; i < 8; i++ {
		res, err := l.Check(ctx, ws)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		} else {
			assert.Equal(t, LevelDay, res.ExceededLevel)
		}
	}
	assert.Equal(t, 5, allowed, "free plan allows 5/day")
}

func TestCheckTierCapTightensDaily(t *testing.T) {
	l, _ := newTestLimiter(t)
	ws := testWorkspace(models.PlanPremium)
	ws.MessagingTier = models.TierFifty

	wins := l.windows(ws)
	for _, w := range wins {
		if w.name == LevelDay {
			assert.Equal(t, 50, w.cap, "tier cap overrides larger plan cap")
		}
	}
}

func TestWorkspaceOverrides(t *testing.T) {
	l, _ := newTestLimiter(t)
	ws := testWorkspace(models.PlanFree)
	ws.DailyLimitOverride = 777
	ws.MonthlyLimitOverride = 9999

	assert.Equal(t, 777, l.PlanDailyCap(ws))
	assert.Equal(t, 9999, l.PlanMonthlyCap(ws))

	ws2 := testWorkspace(models.PlanFree)
	assert.Equal(t, 5, l.PlanDailyCap(ws2))
	assert.Equal(t, 150, l.PlanMonthlyCap(ws2))
}

func TestBackoff(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	campaignID := uuid.New()

	wait, remaining, err := false, time.Duration(0), error(nil)
	wait, remaining, err = l.ShouldWait(ctx, campaignID)
	require.NoError(t, err)
	assert.False(t, wait)

	require.NoError(t, l.SetBackoff(ctx, campaignID, 15*time.Second))

	wait, remaining, err = l.ShouldWait(ctx, campaignID)
	require.NoError(t, err)
	assert.True(t, wait)
	assert.Greater(t, remaining, 10*time.Second)

	require.NoError(t, l.ClearBackoff(ctx, campaignID))
	wait, _, err = l.ShouldWait(ctx, campaignID)
	require.NoError(t, err)
	assert.False(t, wait)
}

func TestConsecutiveFailures(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 1; i <= 3; i++ {
		n, err := l.RecordFailure(ctx, campaignID)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	require.NoError(t, l.RecordSuccess(ctx, campaignID))

	n, err := l.ConsecutiveFailures(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "success clears the streak")
}

func TestShouldAutoPause(t *testing.T) {
	l, _ := newTestLimiter(t)

	assert.False(t, l.ShouldAutoPause(9, 100, 10))
	assert.True(t, l.ShouldAutoPause(10, 100, 10), "consecutive threshold")

	assert.False(t, l.ShouldAutoPause(0, 30, 10), "below min sample")
	assert.True(t, l.ShouldAutoPause(0, 35, 15), "50 processed, 30% failed")
	assert.False(t, l.ShouldAutoPause(0, 90, 10), "100 processed, 10% failed")
}
