package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Automation triggers
const (
	TriggerMessageReceived   = "message_received"
	TriggerStatusUpdated     = "status_updated"
	TriggerCampaignCompleted = "campaign_completed"
	TriggerKeyword           = "keyword"
	TriggerTagAdded          = "tag_added"
	TriggerAdLead            = "ad_lead"
)

// Keyword match modes
const (
	MatchModeExact      = "exact"
	MatchModeContains   = "contains"
	MatchModeStartsWith = "startsWith"
)

// Automation action types
const (
	ActionSendTemplateMessage = "send_template_message"
	ActionSendTextMessage     = "send_text_message"
	ActionSendMediaMessage    = "send_media_message"
	ActionAssignConversation  = "assign_conversation"
	ActionAddTag              = "add_tag"
	ActionRemoveTag           = "remove_tag"
	ActionUpdateContact       = "update_contact"
	ActionAddNote             = "add_note"
	ActionNotifyWebhook       = "notify_webhook"
	ActionDelay               = "delay"
	ActionCloseConversation   = "close_conversation"
	ActionMarkAsResolved      = "mark_as_resolved"
)

// Action is one step of a rule's ordered action list.
type Action struct {
	Type   string `json:"type"`
	Params JSONB  `json:"params,omitempty"`

	// ContinueOnFailure keeps the list running past this action's error.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty"`
}

// ActionList is an ordered JSON array column of actions.
type ActionList []Action

// Value implements driver.Valuer
func (a ActionList) Value() (driver.Value, error) {
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
func (a *ActionList) Scan(value interface{}) error {
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
		return errors.New("unsupported type for ActionList")
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// AutomationRule is a workspace-scoped trigger -> conditions -> actions rule
type AutomationRule struct {
	BaseModel
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index" json:"workspace_id"`
	Name        string    `gorm:"not null" json:"name"`
	Trigger     string    `gorm:"not null;index" json:"trigger"`
	IsEnabled   bool      `gorm:"default:true" json:"is_enabled"`
	Priority    int       `gorm:"default:0" json:"priority"`

	// Condition predicate, shape depends on the trigger:
	// keyword: {keywords: [], match_mode}; status_updated: {statuses: []}
	Conditions JSONB `gorm:"type:jsonb;default:'{}'" json:"conditions"`

	// Ordered action list, executed top to bottom
	Actions ActionList `gorm:"type:jsonb;default:'[]'" json:"actions"`

	DailyLimit     int        `gorm:"default:0" json:"daily_limit"`
	ExecutionCount int        `gorm:"default:0" json:"execution_count"`
	SuccessCount   int        `gorm:"default:0" json:"success_count"`
	FailureCount   int        `gorm:"default:0" json:"failure_count"`
	CountResetAt   *time.Time `json:"count_reset_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}
