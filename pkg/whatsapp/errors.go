package whatsapp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorClass buckets provider errors by the action callers must take.
type ErrorClass string

const (
	// ClassRateLimit: back off and requeue with the provider hint.
	ClassRateLimit ErrorClass = "RATE_LIMIT"
	// ClassTemporary: retry per job policy.
	ClassTemporary ErrorClass = "TEMPORARY"
	// ClassAuthFatal: token expired or invalid; pause the campaign.
	ClassAuthFatal ErrorClass = "AUTH_FATAL"
	// ClassAccountFatal: account blocked or capability revoked; pause.
	ClassAccountFatal ErrorClass = "ACCOUNT_FATAL"
	// ClassTemplateFatal: template paused/rejected at send time; pause.
	ClassTemplateFatal ErrorClass = "TEMPLATE_FATAL"
	// ClassInvalidRecipient: phone not on the platform; fail the message.
	ClassInvalidRecipient ErrorClass = "INVALID_RECIPIENT"
	// ClassClientError: fixable 4xx payload; fail without retry.
	ClassClientError ErrorClass = "CLIENT_ERROR"
)

// APIError is a classified provider error.
type APIError struct {
	Class      ErrorClass
	HTTPStatus int
	Code       int
	Subcode    int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: api error %d: %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// IsRetryable reports whether the job policy may retry the send.
func (e *APIError) IsRetryable() bool {
	return e.Class == ClassRateLimit || e.Class == ClassTemporary
}

// PauseReason maps fatal classes to the campaign pause reason, empty
// for non-pausing classes.
func (e *APIError) PauseReason() string {
	switch e.Class {
	case ClassAuthFatal:
		return "TOKEN_EXPIRED"
	case ClassAccountFatal:
		if e.Subcode == subcodeCapabilityRevoked {
			return "CAPABILITY_REVOKED"
		}
		return "ACCOUNT_BLOCKED"
	case ClassTemplateFatal:
		return "TEMPLATE_REVOKED"
	}
	return ""
}

// AsAPIError unwraps err into an *APIError if it carries one.
func AsAPIError(err error) (*APIError, bool) {
	var e *APIError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Meta error codes consumed by the classifier.
const (
	codeRateLimitHit       = 4      // app-level throttling
	codeAccessToken        = 190    // expired/invalid token
	codeAccountBlocked     = 368    // temporarily blocked for policy violations
	codePermission         = 10     // permission denied (capability)
	codeRateLimitIssues    = 130429 // cloud API rate limit
	codeSpamRate           = 131048 // spam rate limit hit
	codePairRate           = 131056 // (business, consumer) pair rate limit
	codeRecipientInvalid   = 131026 // message undeliverable / not on WhatsApp
	codeRecipientDisallow  = 131030 // recipient not in allowed list
	codeTemplateNotExist   = 132001
	codeTemplateParamCount = 132000
	codeTemplatePaused     = 132015
	codeTemplateDisabled   = 132016

	subcodeCapabilityRevoked = 2494049
)

// ClassifyError maps a provider response to the error taxonomy. The
// Retry-After header, when present, becomes the backoff hint.
func ClassifyError(httpStatus int, retryAfterHeader string, apiErr *MetaAPIError) *APIError {
	e := &APIError{
		HTTPStatus: httpStatus,
		Message:    fmt.Sprintf("API returned status %d", httpStatus),
	}
	if apiErr != nil && apiErr.Error.Message != "" {
		e.Code = apiErr.Error.Code
		e.Subcode = apiErr.Error.ErrorSubcode
		e.Message = apiErr.Error.Message
	}

	if retryAfterHeader != "" {
		if secs, err := strconv.Atoi(retryAfterHeader); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	switch {
	case httpStatus == http.StatusTooManyRequests,
		e.Code == codeRateLimitHit,
		e.Code == codeRateLimitIssues,
		e.Code == codeSpamRate,
		e.Code == codePairRate:
		e.Class = ClassRateLimit
		if e.RetryAfter == 0 {
			e.RetryAfter = 30 * time.Second
		}

	case httpStatus >= 500:
		e.Class = ClassTemporary

	case httpStatus == http.StatusUnauthorized, e.Code == codeAccessToken:
		e.Class = ClassAuthFatal

	case e.Code == codeAccountBlocked, e.Code == codePermission:
		e.Class = ClassAccountFatal

	case e.Code == codeTemplateNotExist, e.Code == codeTemplatePaused, e.Code == codeTemplateDisabled:
		e.Class = ClassTemplateFatal

	case e.Code == codeRecipientInvalid, e.Code == codeRecipientDisallow:
		e.Class = ClassInvalidRecipient

	default:
		e.Class = ClassClientError
	}

	return e
}
