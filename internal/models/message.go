package models

import (
	"time"

	"github.com/google/uuid"
)

// Message lifecycle statuses, in provider vocabulary
const (
	MessageStatusQueued    = "queued"
	MessageStatusSending   = "sending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
	MessageStatusReceived  = "received"
	MessageStatusReplied   = "replied"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message types
const (
	MessageTypeText     = "text"
	MessageTypeTemplate = "template"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeDocument = "document"
	MessageTypeAudio    = "audio"
)

// statusRank orders the send lifecycle for monotonic progression.
// failed is a terminal sink, not part of the ordering.
var statusRank = map[string]int{
	MessageStatusQueued:    1,
	MessageStatusSending:   2,
	MessageStatusSent:      3,
	MessageStatusDelivered: 4,
	MessageStatusRead:      5,
}

// StatusRank returns the lifecycle rank of a status, 0 if unranked.
func StatusRank(status string) int {
	return statusRank[status]
}

// StatusAdvances reports whether moving from to next is a legal
// progression: next must advance the ordering, or be failed while the
// current status is not already terminal.
func StatusAdvances(current, next string) bool {
	if current == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return true
	}
	cr, nr := statusRank[current], statusRank[next]
	if nr == 0 {
		return false
	}
	return nr > cr
}

// Message is the unified per-message record for both directions
type Message struct {
	BaseModel
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	ContactID   *uuid.UUID `gorm:"type:uuid;index" json:"contact_id,omitempty"`

	Direction   string `gorm:"not null;index" json:"direction"`
	MessageType string `gorm:"default:text" json:"message_type"`
	Status      string `gorm:"default:queued;index" json:"status"`

	Content      string `gorm:"type:text" json:"content"`
	MediaID      string `json:"media_id,omitempty"`
	MediaURL     string `json:"media_url,omitempty"`
	TemplateName string `json:"template_name,omitempty"`

	ProviderMessageID string `gorm:"index" json:"provider_message_id,omitempty"`

	// Attribution for outbound campaign messages
	CampaignID *uuid.UUID `gorm:"type:uuid;index" json:"campaign_id,omitempty"`
	BatchID    *uuid.UUID `gorm:"type:uuid" json:"batch_id,omitempty"`
	TemplateID *uuid.UUID `gorm:"type:uuid" json:"template_id,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    int    `gorm:"default:0" json:"error_code"`

	Metadata JSONB `gorm:"type:jsonb;default:'{}'" json:"metadata"`
}

// CampaignMessage is the per-(campaign, contact) join record tracking
// the send lifecycle for one campaign recipient
type CampaignMessage struct {
	BaseModel
	CampaignID  uuid.UUID `gorm:"type:uuid;not null;index:idx_campaign_messages_unique,unique" json:"campaign_id"`
	ContactID   uuid.UUID `gorm:"type:uuid;not null;index:idx_campaign_messages_unique,unique" json:"contact_id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null" json:"workspace_id"`
	BatchID     uuid.UUID `gorm:"type:uuid" json:"batch_id"`

	PhoneNumber string `gorm:"size:50" json:"phone_number"`
	Status      string `gorm:"default:queued;index" json:"status"`
	Attempts    int    `gorm:"default:0" json:"attempts"`

	ProviderMessageID string `gorm:"index" json:"provider_message_id,omitempty"`

	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	LastError     string `json:"last_error,omitempty"`
	LastErrorCode int    `gorm:"default:0" json:"last_error_code"`
}

// AlreadySent reports whether the recipient was already charged a send,
// making any further emission a duplicate.
func (m *CampaignMessage) AlreadySent() bool {
	switch m.Status {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusReplied:
		return true
	}
	return false
}
