package models

import "time"

// Plan tiers
const (
	PlanFree       = "free"
	PlanBasic      = "basic"
	PlanPremium    = "premium"
	PlanEnterprise = "enterprise"
)

// Quality ratings assigned by the provider
const (
	QualityGreen   = "GREEN"
	QualityYellow  = "YELLOW"
	QualityRed     = "RED"
	QualityUnknown = "UNKNOWN"
)

// Messaging tiers (rolling 24h distinct-recipient ceilings)
const (
	TierFifty     = "TIER_50"
	Tier250       = "TIER_250"
	Tier1K        = "TIER_1K"
	Tier10K       = "TIER_10K"
	Tier100K      = "TIER_100K"
	TierUnlimited = "TIER_UNLIMITED"
)

// Phone connection states
const (
	PhoneConnected    = "CONNECTED"
	PhoneDisconnected = "DISCONNECTED"
)

// Workspace is a tenant sharing the BSP provider account
type Workspace struct {
	BaseModel
	Name string `gorm:"not null" json:"name"`
	Plan string `gorm:"default:free" json:"plan"`

	// Provider credentials (supplied by the onboarding subsystem)
	AccessToken       string     `gorm:"type:text" json:"-"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	PhoneNumberID     string     `gorm:"index" json:"phone_number_id"`
	BusinessAccountID string     `json:"business_account_id"`
	PhoneStatus       string     `gorm:"default:DISCONNECTED" json:"phone_status"`

	QualityRating string `gorm:"default:UNKNOWN" json:"quality_rating"`
	MessagingTier string `gorm:"default:TIER_1K" json:"messaging_tier"`

	IsActive          bool `gorm:"default:true" json:"is_active"`
	IsBlocked         bool `gorm:"default:false" json:"is_blocked"`
	CapabilityBlocked bool `gorm:"default:false" json:"capability_blocked"`

	// Usage counters maintained by the rate limiter rollup
	MessagesToday     int        `gorm:"default:0" json:"messages_today"`
	MessagesThisMonth int        `gorm:"default:0" json:"messages_this_month"`
	UsageResetAt      *time.Time `json:"usage_reset_at,omitempty"`

	// Plan limit overrides; zero means use the plan default
	DailyLimitOverride   int `gorm:"default:0" json:"daily_limit_override"`
	MonthlyLimitOverride int `gorm:"default:0" json:"monthly_limit_override"`

	Settings JSONB `gorm:"type:jsonb;default:'{}'" json:"settings"`
}

// IsConnected reports whether the workspace can originate outbound messages:
// a non-expired token, a phone number binding, and no block flags.
func (w *Workspace) IsConnected() bool {
	if w.AccessToken == "" || w.PhoneNumberID == "" {
		return false
	}
	if w.IsBlocked || w.CapabilityBlocked {
		return false
	}
	if w.TokenExpiresAt != nil && !w.TokenExpiresAt.After(time.Now()) {
		return false
	}
	return true
}

// TokenExpired reports whether the access token has passed its expiry.
func (w *Workspace) TokenExpired() bool {
	return w.TokenExpiresAt != nil && !w.TokenExpiresAt.After(time.Now())
}

// TierDailyCap returns the messaging tier's 24h recipient ceiling,
// or 0 for unlimited.
func TierDailyCap(tier string) int {
	switch tier {
	case TierFifty:
		return 50
	case Tier250:
		return 250
	case Tier1K:
		return 1000
	case Tier10K:
		return 10000
	case Tier100K:
		return 100000
	default:
		return 0
	}
}
