package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "DRAFT"
	CampaignStatusScheduled = "SCHEDULED"
	CampaignStatusRunning   = "RUNNING"
	CampaignStatusPaused    = "PAUSED"
	CampaignStatusCompleted = "COMPLETED"
	CampaignStatusFailed    = "FAILED"
)

// Pause reasons carried on a PAUSED campaign
const (
	PauseReasonUserPaused          = "USER_PAUSED"
	PauseReasonLimitReached        = "LIMIT_REACHED"
	PauseReasonTemplateRevoked     = "TEMPLATE_REVOKED"
	PauseReasonAccountBlocked      = "ACCOUNT_BLOCKED"
	PauseReasonAccountDisabled     = "ACCOUNT_DISABLED"
	PauseReasonTokenExpired        = "TOKEN_EXPIRED"
	PauseReasonCapabilityRevoked   = "CAPABILITY_REVOKED"
	PauseReasonHighFailureRate     = "HIGH_FAILURE_RATE"
	PauseReasonRateLimited         = "RATE_LIMITED"
	PauseReasonPhoneDisconnected   = "PHONE_DISCONNECTED"
	PauseReasonQualityDegraded     = "QUALITY_DEGRADED"
	PauseReasonTierDowngraded      = "TIER_DOWNGRADED"
	PauseReasonKillSwitchActivated = "KILL_SWITCH_ACTIVATED"
)

// Recipient specification kinds
const (
	RecipientSpecStatic  = "static"
	RecipientSpecAll     = "all"
	RecipientSpecTags    = "tags"
	RecipientSpecSegment = "segment"
)

// Audit trail actions
const (
	AuditActionCreated      = "CREATED"
	AuditActionStarted      = "STARTED"
	AuditActionPaused       = "PAUSED"
	AuditActionSystemPaused = "SYSTEM_PAUSED"
	AuditActionResumed      = "RESUMED"
	AuditActionCompleted    = "COMPLETED"
	AuditActionFailed       = "FAILED"
)

// maxAuditEntries bounds the audit trail; the oldest entries are dropped.
const maxAuditEntries = 100

// AuditEntry is a single append-only audit trail record
type AuditEntry struct {
	Action          string    `json:"action"`
	Actor           string    `json:"actor"`
	Timestamp       time.Time `json:"timestamp"`
	Reason          string    `json:"reason,omitempty"`
	SystemInitiated bool      `json:"system_initiated"`
}

// AuditTrail is a bounded, append-only list stored as a JSON column
type AuditTrail []AuditEntry

// Value implements driver.Valuer
func (a AuditTrail) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (a *AuditTrail) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for AuditTrail")
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// Append adds an entry, dropping the oldest past the bound.
func (a AuditTrail) Append(entry AuditEntry) AuditTrail {
	out := append(a, entry)
	if len(out) > maxAuditEntries {
		out = out[len(out)-maxAuditEntries:]
	}
	return out
}

// Campaign is a workspace-scoped template fan-out
type Campaign struct {
	BaseModel
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string    `gorm:"not null" json:"name"`
	Status      string    `gorm:"default:DRAFT;index" json:"status"`

	// Template snapshot, captured at creation time
	TemplateID            uuid.UUID `gorm:"type:uuid;not null" json:"template_id"`
	TemplateName          string    `json:"template_name"`
	TemplateLanguage      string    `json:"template_language"`
	TemplateCategory      string    `json:"template_category"`
	TemplateVariableCount int       `gorm:"default:0" json:"template_variable_count"`

	// Recipient specification: static id list or a filter
	RecipientSpecKind string      `gorm:"default:static" json:"recipient_spec_kind"`
	RecipientIDs      StringArray `gorm:"type:jsonb;default:'[]'" json:"recipient_ids"`
	RecipientTags     StringArray `gorm:"type:jsonb;default:'[]'" json:"recipient_tags"`
	RecipientSegment  string      `json:"recipient_segment,omitempty"`

	// templateVar (as string index) -> contact field path
	VariableMapping JSONB `gorm:"type:jsonb;default:'{}'" json:"variable_mapping"`

	// Uploaded header media id, used over the template's header URL when set
	HeaderMediaID string `json:"header_media_id,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PausedReason string `json:"paused_reason,omitempty"`

	// Totals, rolled up atomically by workers and the webhook ingester
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	QueuedCount     int `gorm:"default:0" json:"queued_count"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	DeliveredCount  int `gorm:"default:0" json:"delivered_count"`
	ReadCount       int `gorm:"default:0" json:"read_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`
	RepliedCount    int `gorm:"default:0" json:"replied_count"`

	// Batching plan
	BatchSize        int `gorm:"default:50" json:"batch_size"`
	TotalBatches     int `gorm:"default:0" json:"total_batches"`
	CompletedBatches int `gorm:"default:0" json:"completed_batches"`
	FailedBatches    int `gorm:"default:0" json:"failed_batches"`

	// Failure tracking
	ConsecutiveFailures int     `gorm:"default:0" json:"consecutive_failures"`
	FailureRate         float64 `gorm:"default:0" json:"failure_rate"`
	LastError           string  `json:"last_error,omitempty"`
	LastErrorCode       int     `gorm:"default:0" json:"last_error_code"`

	AuditTrail AuditTrail `gorm:"type:jsonb;default:'[]'" json:"audit_trail"`

	CreatedBy string `json:"created_by,omitempty"`
}

// IsFinal reports whether the campaign is in a terminal state.
func (c *Campaign) IsFinal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// Batch statuses. COMPLETED is terminal: a completed batch never
// transitions back and never re-emits sends.
const (
	BatchStatusPending    = "PENDING"
	BatchStatusQueued     = "QUEUED"
	BatchStatusProcessing = "PROCESSING"
	BatchStatusCompleted  = "COMPLETED"
	BatchStatusFailed     = "FAILED"
	BatchStatusPaused     = "PAUSED"
)

// Recipient statuses inside a batch slice
const (
	RecipientStatusPending = "pending"
	RecipientStatusQueued  = "queued"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
	RecipientStatusSkipped = "skipped"
)

// BatchRecipient is one recipient entry inside a batch's slice
type BatchRecipient struct {
	ContactID         string     `json:"contact_id"`
	Phone             string     `json:"phone"`
	Status            string     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Error             string     `json:"error,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
}

// BatchRecipients is the JSON column holding a batch's recipient slice
type BatchRecipients []BatchRecipient

// Value implements driver.Valuer
func (b BatchRecipients) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (b *BatchRecipients) Scan(value interface{}) error {
	if value == nil {
		*b = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for BatchRecipients")
	}
	if len(data) == 0 {
		*b = nil
		return nil
	}
	return json.Unmarshal(data, b)
}

// CampaignBatch is one slice of a campaign's recipient fan-out
type CampaignBatch struct {
	BaseModel
	CampaignID  uuid.UUID `gorm:"type:uuid;not null;index:idx_batches_campaign_index,unique" json:"campaign_id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null" json:"workspace_id"`
	BatchIndex  int       `gorm:"not null;index:idx_batches_campaign_index,unique" json:"batch_index"`
	Status      string    `gorm:"default:PENDING;index" json:"status"`

	Recipients BatchRecipients `gorm:"type:jsonb;default:'[]'" json:"recipients"`

	Attempts    int        `gorm:"default:0" json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// IsFinal reports whether the batch has reached a terminal status.
func (b *CampaignBatch) IsFinal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusFailed
}

// IsResumable reports whether resume may re-enqueue this batch.
// COMPLETED and PROCESSING batches are never re-enqueued.
func (b *CampaignBatch) IsResumable() bool {
	switch b.Status {
	case BatchStatusPending, BatchStatusFailed, BatchStatusPaused:
		return true
	}
	return false
}
