package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a workspace-scoped recipient
type Contact struct {
	BaseModel
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	PhoneNumber string    `gorm:"size:50;not null" json:"phone_number"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`

	OptedOut   bool       `gorm:"default:false" json:"opted_out"`
	OptedOutAt *time.Time `json:"opted_out_at,omitempty"`

	Tags       StringArray `gorm:"type:jsonb;default:'[]'" json:"tags"`
	Attributes JSONB       `gorm:"type:jsonb;default:'{}'" json:"attributes"`

	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
}
