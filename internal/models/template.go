package models

import "github.com/google/uuid"

// Template approval states. Only APPROVED templates are sendable.
const (
	TemplateStatusDraft    = "DRAFT"
	TemplateStatusPending  = "PENDING"
	TemplateStatusApproved = "APPROVED"
	TemplateStatusRejected = "REJECTED"
	TemplateStatusPaused   = "PAUSED"
	TemplateStatusRevoked  = "REVOKED"
)

// Template categories
const (
	TemplateCategoryMarketing      = "MARKETING"
	TemplateCategoryUtility        = "UTILITY"
	TemplateCategoryAuthentication = "AUTHENTICATION"
)

// Header types
const (
	HeaderTypeNone     = ""
	HeaderTypeText     = "TEXT"
	HeaderTypeImage    = "IMAGE"
	HeaderTypeVideo    = "VIDEO"
	HeaderTypeDocument = "DOCUMENT"
)

// Template is a workspace-scoped pre-approved message template
type Template struct {
	BaseModel
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string    `gorm:"not null" json:"name"`
	Language    string    `gorm:"size:10;not null;default:en" json:"language"`
	Category    string    `gorm:"default:UTILITY" json:"category"`
	Status      string    `gorm:"default:DRAFT;index" json:"status"`

	HeaderType    string `json:"header_type"`
	HeaderContent string `json:"header_content"`
	BodyContent   string `gorm:"type:text;not null" json:"body_content"`
	FooterContent string `json:"footer_content"`

	// Buttons as provider-shaped objects: {type, text, url?, phone_number?}
	Buttons JSONB `gorm:"type:jsonb;default:'{}'" json:"buttons"`

	// Variable arities per region, captured on create/sync
	HeaderVariableCount int `gorm:"default:0" json:"header_variable_count"`
	BodyVariableCount   int `gorm:"default:0" json:"body_variable_count"`
	ButtonVariableCount int `gorm:"default:0" json:"button_variable_count"`

	// Provider-side template id, set after submission
	ProviderTemplateID string `json:"provider_template_id,omitempty"`
	RejectionReason    string `json:"rejection_reason,omitempty"`
}

// IsSendable reports whether the template may be sent.
func (t *Template) IsSendable() bool {
	return t.Status == TemplateStatusApproved
}
