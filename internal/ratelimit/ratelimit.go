// Package ratelimit maintains per-workspace/per-phone send counters,
// per-campaign backoff state, and the consecutive-failure tracking that
// feeds the auto-pause rule.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"github.com/zerodha/logf"
)

// Exceeded levels returned by Check
const (
	LevelSecond = "second"
	LevelMinute = "minute"
	LevelDay    = "day"
	LevelMonth  = "month"
)

const (
	tenantKeyPrefix   = "rate:tenant:"
	phoneKeyPrefix    = "rate:phone:"
	backoffKeyPrefix  = "campaign:backoff:"
	failuresKeyPrefix = "campaign:failures:"
)

// Result is the outcome of a limiter check.
type Result struct {
	Allowed       bool
	RetryAfter    time.Duration
	ExceededLevel string
}

// Limiter implements window counters over Redis INCR+EXPIRE.
type Limiter struct {
	Redis *redis.Client
	Cfg   *config.Config
	Log   logf.Logger

	// now is swappable in tests
	now func() time.Time
}

// New creates a limiter.
func New(rdb *redis.Client, cfg *config.Config, log logf.Logger) *Limiter {
	return &Limiter{Redis: rdb, Cfg: cfg, Log: log, now: time.Now}
}

// planDailyCap returns the plan's daily message cap, 0 for unlimited.
func (l *Limiter) planDailyCap(plan string) int {
	switch plan {
	case models.PlanFree:
		return l.Cfg.RateLimit.FreeDaily
	case models.PlanBasic:
		return l.Cfg.RateLimit.BasicDaily
	case models.PlanPremium:
		return l.Cfg.RateLimit.PremiumDaily
	default:
		return 0 // enterprise: unlimited
	}
}

// PlanDailyCap exposes the plan cap for preflight estimates. Workspace
// overrides take precedence when set.
func (l *Limiter) PlanDailyCap(ws *models.Workspace) int {
	if ws.DailyLimitOverride > 0 {
		return ws.DailyLimitOverride
	}
	return l.planDailyCap(ws.Plan)
}

// PlanMonthlyCap returns the monthly cap, 30x daily unless overridden.
func (l *Limiter) PlanMonthlyCap(ws *models.Workspace) int {
	if ws.MonthlyLimitOverride > 0 {
		return ws.MonthlyLimitOverride
	}
	daily := l.planDailyCap(ws.Plan)
	if daily == 0 {
		return 0
	}
	return daily * 30
}

type window struct {
	name   string
	suffix string
	ttl    time.Duration
	cap    int
	retry  time.Duration
}

func (l *Limiter) windows(ws *models.Workspace) []window {
	now := l.now()
	dayCap := l.PlanDailyCap(ws)
	if tierCap := models.TierDailyCap(ws.MessagingTier); tierCap > 0 && (dayCap == 0 || tierCap < dayCap) {
		dayCap = tierCap
	}

	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
	endOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)

	return []window{
		{LevelSecond, "sec:" + now.Format("20060102150405"), 2 * time.Second, l.Cfg.RateLimit.PerSecond, time.Second},
		{LevelMinute, "min:" + now.Format("200601021504"), 2 * time.Minute, l.Cfg.RateLimit.PerMinute, time.Minute},
		{LevelDay, "day:" + now.Format("20060102"), 48 * time.Hour, dayCap, endOfDay.Sub(now)},
		{LevelMonth, "month:" + now.Format("200601"), 32 * 24 * time.Hour, l.PlanMonthlyCap(ws), endOfMonth.Sub(now)},
	}
}

// Check consumes one send permit across all windows for the workspace
// and its phone. On denial, no counter is charged for the denied send
// beyond the probe increment, which decays with the window.
func (l *Limiter) Check(ctx context.Context, ws *models.Workspace) (*Result, error) {
	for _, win := range l.windows(ws) {
		if win.cap <= 0 {
			continue // unlimited
		}
		for _, prefix := range []string{
			tenantKeyPrefix + ws.ID.String() + ":",
			phoneKeyPrefix + ws.PhoneNumberID + ":",
		} {
			key := prefix + win.suffix
			count, err := l.Redis.Incr(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("rate counter error: %w", err)
			}
			if count == 1 {
				l.Redis.Expire(ctx, key, win.ttl)
			}
			if int(count) > win.cap {
				return &Result{
					Allowed:       false,
					RetryAfter:    win.retry,
					ExceededLevel: win.name,
				}, nil
			}
		}
	}
	return &Result{Allowed: true}, nil
}

// SetBackoff records a per-campaign backoff window, typically after an
// upstream 429.
func (l *Limiter) SetBackoff(ctx context.Context, campaignID uuid.UUID, wait time.Duration) error {
	until := l.now().Add(wait).UnixMilli()
	return l.Redis.Set(ctx, backoffKeyPrefix+campaignID.String(), until, wait+time.Minute).Err()
}

// ShouldWait reports whether the campaign is inside a backoff window
// and how long remains.
func (l *Limiter) ShouldWait(ctx context.Context, campaignID uuid.UUID) (bool, time.Duration, error) {
	raw, err := l.Redis.Get(ctx, backoffKeyPrefix+campaignID.String()).Result()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("backoff read error: %w", err)
	}

	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, 0, nil
	}
	remaining := time.UnixMilli(until).Sub(l.now())
	if remaining <= 0 {
		return false, 0, nil
	}
	return true, remaining, nil
}

// ClearBackoff removes any backoff window for the campaign.
func (l *Limiter) ClearBackoff(ctx context.Context, campaignID uuid.UUID) error {
	return l.Redis.Del(ctx, backoffKeyPrefix+campaignID.String()).Err()
}

// RecordFailure increments the consecutive-failure counter and returns
// the new count.
func (l *Limiter) RecordFailure(ctx context.Context, campaignID uuid.UUID) (int, error) {
	count, err := l.Redis.Incr(ctx, failuresKeyPrefix+campaignID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("failure counter error: %w", err)
	}
	l.Redis.Expire(ctx, failuresKeyPrefix+campaignID.String(), 24*time.Hour)
	return int(count), nil
}

// RecordSuccess clears the consecutive-failure counter.
func (l *Limiter) RecordSuccess(ctx context.Context, campaignID uuid.UUID) error {
	return l.Redis.Del(ctx, failuresKeyPrefix+campaignID.String()).Err()
}

// ConsecutiveFailures returns the current counter value.
func (l *Limiter) ConsecutiveFailures(ctx context.Context, campaignID uuid.UUID) (int, error) {
	raw, err := l.Redis.Get(ctx, failuresKeyPrefix+campaignID.String()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(raw)
	return n, nil
}

// ShouldAutoPause evaluates the auto-pause thresholds: too many
// consecutive failures, or a high cumulative failure rate once enough
// messages have been processed.
func (l *Limiter) ShouldAutoPause(consecutiveFailures, sent, failed int) bool {
	if consecutiveFailures >= l.Cfg.Campaigns.MaxConsecutiveFailures {
		return true
	}
	processed := sent + failed
	if processed >= l.Cfg.Campaigns.FailureRateMinSample {
		rate := float64(failed) / float64(processed)
		if rate >= l.Cfg.Campaigns.FailureRateThreshold {
			return true
		}
	}
	return false
}
