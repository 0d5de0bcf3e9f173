// Package preflight validates a campaign before execution: template
// approval, recipient set size, account health, phone tier and quality,
// and workspace quotas, plus batching and duration estimates.
package preflight

import (
	"fmt"
	"math"
	"time"

	"github.com/zerodha/logf"
	"gorm.io/gorm"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/contactutil"
	"github.com/waveline/waveline/internal/models"
	"github.com/waveline/waveline/internal/ratelimit"
)

// Check names reported back to the caller
const (
	CheckTemplate        = "template"
	CheckRecipients      = "recipients"
	CheckAccountHealth   = "account_health"
	CheckPhoneTier       = "phone_tier"
	CheckWorkspaceLimits = "workspace_limits"
)

const (
	checkPassed = "passed"
	checkFailed = "failed"
	checkWarned = "warned"
)

// Issue is one blocking error or informational warning.
type Issue struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// Estimates carries the batching plan and duration projection.
type Estimates struct {
	Recipients        int           `json:"recipients"`
	BatchSize         int           `json:"batch_size"`
	BatchCount        int           `json:"batch_count"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Report is the outcome of a preflight run. Valid is false whenever any
// blocking error was recorded; warnings are informational only.
type Report struct {
	Valid     bool              `json:"valid"`
	Errors    []Issue           `json:"errors"`
	Warnings  []Issue           `json:"warnings"`
	Checks    map[string]string `json:"checks"`
	Estimates Estimates         `json:"estimates"`
}

func (r *Report) fail(check, format string, args ...interface{}) {
	r.Valid = false
	r.Checks[check] = checkFailed
	r.Errors = append(r.Errors, Issue{Check: check, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warn(check, format string, args ...interface{}) {
	if r.Checks[check] == "" || r.Checks[check] == checkPassed {
		r.Checks[check] = checkWarned
	}
	r.Warnings = append(r.Warnings, Issue{Check: check, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) pass(check string) {
	if r.Checks[check] == "" {
		r.Checks[check] = checkPassed
	}
}

// Validator runs preflight checks against the database and the rate
// limiter's quota view.
type Validator struct {
	DB      *gorm.DB
	Limiter *ratelimit.Limiter
	Cfg     *config.Config
	Log     logf.Logger
}

// New creates a Validator.
func New(db *gorm.DB, limiter *ratelimit.Limiter, cfg *config.Config, log logf.Logger) *Validator {
	return &Validator{DB: db, Limiter: limiter, Cfg: cfg, Log: log}
}

// Run executes the full check sequence for a campaign start. All checks
// run even after a failure so the report is complete.
func (v *Validator) Run(campaign *models.Campaign, ws *models.Workspace) (*Report, error) {
	report := &Report{Valid: true, Checks: map[string]string{}}

	v.checkTemplate(report, campaign)

	recipients, err := contactutil.CountRecipients(v.DB, campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	v.checkRecipients(report, recipients)
	v.checkAccountHealth(report, ws)
	v.checkPhoneTier(report, ws, recipients)
	v.checkWorkspaceLimits(report, ws, recipients)
	v.estimate(report, campaign, recipients)

	return report, nil
}

// RunStartChecks executes the start-time subset used by resume:
// template approval, account health, and phone quality. Recipient and
// quota sizing were settled when the campaign first started.
func (v *Validator) RunStartChecks(campaign *models.Campaign, ws *models.Workspace) (*Report, error) {
	report := &Report{Valid: true, Checks: map[string]string{}}
	v.checkTemplate(report, campaign)
	v.checkAccountHealth(report, ws)
	v.checkPhoneTier(report, ws, 0)
	return report, nil
}

func (v *Validator) checkTemplate(report *Report, campaign *models.Campaign) {
	var tpl models.Template
	err := v.DB.Where("id = ? AND workspace_id = ?", campaign.TemplateID, campaign.WorkspaceID).
		First(&tpl).Error
	if err == gorm.ErrRecordNotFound {
		report.fail(CheckTemplate, "template %s not found", campaign.TemplateID)
		return
	}
	if err != nil {
		report.fail(CheckTemplate, "template lookup failed: %v", err)
		return
	}
	if !tpl.IsSendable() {
		report.fail(CheckTemplate, "template %q is %s, only APPROVED templates can be sent", tpl.Name, tpl.Status)
		return
	}
	report.pass(CheckTemplate)
}

func (v *Validator) checkRecipients(report *Report, recipients int) {
	if recipients == 0 {
		report.fail(CheckRecipients, "no recipients resolve after excluding opted-out contacts")
		return
	}
	if recipients > v.Cfg.Campaigns.MaxRecipients {
		report.fail(CheckRecipients, "%d recipients exceeds the maximum of %d", recipients, v.Cfg.Campaigns.MaxRecipients)
		return
	}
	report.pass(CheckRecipients)
}

func (v *Validator) checkAccountHealth(report *Report, ws *models.Workspace) {
	switch {
	case ws.IsBlocked:
		report.fail(CheckAccountHealth, "workspace account is blocked")
	case ws.CapabilityBlocked:
		report.fail(CheckAccountHealth, "workspace messaging capability is revoked")
	case ws.TokenExpired():
		report.fail(CheckAccountHealth, "access token has expired")
	case !ws.IsConnected():
		report.fail(CheckAccountHealth, "workspace is not connected to WhatsApp")
	default:
		report.pass(CheckAccountHealth)
		if ws.TokenExpiresAt != nil {
			if remaining := time.Until(*ws.TokenExpiresAt); remaining < 24*time.Hour {
				report.warn(CheckAccountHealth, "access token expires in %s", remaining.Round(time.Minute))
			}
		}
	}
}

func (v *Validator) checkPhoneTier(report *Report, ws *models.Workspace, recipients int) {
	switch ws.QualityRating {
	case models.QualityRed:
		report.fail(CheckPhoneTier, "phone quality rating is RED, sending is blocked")
		return
	case models.QualityYellow:
		report.warn(CheckPhoneTier, "phone quality rating is YELLOW")
	}

	tierCap := models.TierDailyCap(ws.MessagingTier)
	if tierCap > 0 && recipients > 0 {
		if recipients > tierCap {
			report.fail(CheckPhoneTier, "%d recipients exceeds the %s daily cap of %d", recipients, ws.MessagingTier, tierCap)
			return
		}
		if recipients*10 >= tierCap*8 {
			report.warn(CheckPhoneTier, "campaign uses %d%% of the %s daily cap", recipients*100/tierCap, ws.MessagingTier)
		}
	}
	report.pass(CheckPhoneTier)
}

func (v *Validator) checkWorkspaceLimits(report *Report, ws *models.Workspace, recipients int) {
	if recipients == 0 {
		report.pass(CheckWorkspaceLimits)
		return
	}

	if daily := v.Limiter.PlanDailyCap(ws); daily > 0 {
		remaining := daily - ws.MessagesToday
		if recipients > remaining {
			report.fail(CheckWorkspaceLimits, "%d recipients exceeds the remaining daily quota of %d", recipients, remaining)
			return
		}
		if after := remaining - recipients; after*10 < recipients {
			report.warn(CheckWorkspaceLimits, "only %d daily messages remain after this campaign", after)
		}
	}

	if monthly := v.Limiter.PlanMonthlyCap(ws); monthly > 0 {
		remaining := monthly - ws.MessagesThisMonth
		if recipients > remaining {
			report.fail(CheckWorkspaceLimits, "%d recipients exceeds the remaining monthly quota of %d", recipients, remaining)
			return
		}
	}
	report.pass(CheckWorkspaceLimits)
}

func (v *Validator) estimate(report *Report, campaign *models.Campaign, recipients int) {
	batchSize := campaign.BatchSize
	if batchSize <= 0 {
		batchSize = v.Cfg.Campaigns.BatchSize
	}
	batchCount := int(math.Ceil(float64(recipients) / float64(batchSize)))

	perSecond := v.Cfg.RateLimit.PerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	duration := time.Duration(recipients/perSecond)*time.Second +
		time.Duration(batchCount*v.Cfg.Campaigns.BatchStaggerSeconds)*time.Second

	report.Estimates = Estimates{
		Recipients:        recipients,
		BatchSize:         batchSize,
		BatchCount:        batchCount,
		EstimatedDuration: duration,
	}
}
