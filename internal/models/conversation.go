package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation statuses
const (
	ConversationStatusOpen     = "open"
	ConversationStatusClosed   = "closed"
	ConversationStatusResolved = "resolved"
)

// Conversation is the per-(workspace, contact) thread. Its
// LastCustomerMessageAt anchors the 24-hour session window and is
// written only by inbound message ingestion.
type Conversation struct {
	BaseModel
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index:idx_conversations_ws_contact,unique" json:"workspace_id"`
	ContactID   uuid.UUID `gorm:"type:uuid;not null;index:idx_conversations_ws_contact,unique" json:"contact_id"`

	Status     string     `gorm:"default:open;index" json:"status"`
	AssignedTo *uuid.UUID `gorm:"type:uuid" json:"assigned_to,omitempty"`

	UnreadCount           int        `gorm:"default:0" json:"unread_count"`
	LastCustomerMessageAt *time.Time `json:"last_customer_message_at,omitempty"`
	LastMessageAt         *time.Time `json:"last_message_at,omitempty"`

	Tags  StringArray `gorm:"type:jsonb;default:'[]'" json:"tags"`
	Notes JSONB       `gorm:"type:jsonb;default:'{}'" json:"notes"`
}

// WithinSessionWindow reports whether a free-form message may still be
// sent: the last customer message is under 24 hours old.
func (c *Conversation) WithinSessionWindow(now time.Time) bool {
	if c.LastCustomerMessageAt == nil {
		return false
	}
	return now.Sub(*c.LastCustomerMessageAt) < 24*time.Hour
}

// Conversation session origins
const (
	SessionBusinessInitiated = "business_initiated"
	SessionUserInitiated     = "user_initiated"
)

// ConversationLedger records billable session attribution. The core
// writes entries; analytics consumes them.
type ConversationLedger struct {
	BaseModel
	WorkspaceID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversation_id"`
	ContactID      uuid.UUID  `gorm:"type:uuid;not null" json:"contact_id"`
	Origin         string     `gorm:"not null" json:"origin"`
	Billable       bool       `gorm:"default:false" json:"billable"`
	Category       string     `json:"category,omitempty"`
	TemplateID     *uuid.UUID `gorm:"type:uuid" json:"template_id,omitempty"`
	CampaignID     *uuid.UUID `gorm:"type:uuid" json:"campaign_id,omitempty"`
	ProviderConvID string     `gorm:"index" json:"provider_conv_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
}
