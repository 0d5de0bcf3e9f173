package models

import "github.com/google/uuid"

// Webhook processing outcomes
const (
	WebhookOutcomePending    = "pending"
	WebhookOutcomeProcessed  = "processed"
	WebhookOutcomeUnresolved = "unresolved"
	WebhookOutcomeError      = "error"
)

// WebhookLog is an append-only record of received provider callbacks,
// kept for replay and forensics.
type WebhookLog struct {
	BaseModel
	WorkspaceID   *uuid.UUID `gorm:"type:uuid;index" json:"workspace_id,omitempty"`
	PhoneNumberID string     `gorm:"index" json:"phone_number_id"`
	EventType     string     `gorm:"index" json:"event_type"`
	Payload       JSONB      `gorm:"type:jsonb;default:'{}'" json:"payload"`
	Outcome       string     `gorm:"default:pending" json:"outcome"`
	Error         string     `json:"error,omitempty"`
}
