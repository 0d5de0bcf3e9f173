// Package waerr defines the tagged error kinds shared across the
// messaging core. Callers switch on Kind explicitly instead of
// matching error strings.
package waerr

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error kind.
type Kind string

const (
	KindCampaignNotFound          Kind = "CAMPAIGN_NOT_FOUND"
	KindTemplateNotFound          Kind = "TEMPLATE_NOT_FOUND"
	KindTemplateNotApproved       Kind = "TEMPLATE_NOT_APPROVED"
	KindTemplateOwnershipMismatch Kind = "TEMPLATE_OWNERSHIP_MISMATCH"
	KindVariableCountMismatch     Kind = "VARIABLE_COUNT_MISMATCH"
	KindWorkspaceNotConfigured    Kind = "WORKSPACE_NOT_CONFIGURED"
	KindPhoneNotConfigured        Kind = "PHONE_NOT_CONFIGURED"
	KindInvalidRecipient          Kind = "INVALID_RECIPIENT"
	KindMetaAPIError              Kind = "META_API_ERROR"
	KindCampaignAlreadyRunning    Kind = "CAMPAIGN_ALREADY_RUNNING"
	KindLockError                 Kind = "LOCK_ERROR"
	KindPreflightFailed           Kind = "PREFLIGHT_FAILED"
	KindKillSwitchActive          Kind = "KILL_SWITCH_ACTIVE"
	KindWorkspaceUnsafe           Kind = "WORKSPACE_UNSAFE"
	KindInvalidStatus             Kind = "INVALID_STATUS"
	KindDailyLimitExceeded        Kind = "DAILY_LIMIT_EXCEEDED"
	KindMonthlyLimitExceeded      Kind = "MONTHLY_LIMIT_EXCEEDED"
	KindTierLimitExceeded         Kind = "TIER_LIMIT_EXCEEDED"
	KindQualityRed                Kind = "QUALITY_RED"
	KindNo24hWindow               Kind = "NO_24H_WINDOW"
	KindMessageNotFound           Kind = "MESSAGE_NOT_FOUND"
	KindInternal                  Kind = "INTERNAL"
)

// Error carries a kind alongside the message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
